package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/inealey/cinema-transfer/types"
	"github.com/inealey/cinema-transfer/wire"
)

// initialPayloadCap bounds the up-front allocation for a payload buffer;
// larger payloads grow as bytes arrive.
const initialPayloadCap = 4 << 20

// Committer persists a completed batch. The collector's output sink
// implements it.
type Committer interface {
	CommitBatch(ctx context.Context, b types.Batch) error
}

// Result summarizes a committed batch.
type Result struct {
	Files []string
	Bytes int64
}

// Session is the responder side of one connection's handshake.
// It is not safe for concurrent use; the collector's event loop owns it.
type Session struct {
	state      State
	maxPayload uint64
	committer  Committer

	// pending holds inbound bytes not yet consumed (partial headers and
	// partial control bodies).
	pending []byte

	// declared is the size from the last SizeAnnounce.
	declared uint64
	// inPayload is set once the current payload frame's header is consumed.
	inPayload bool
	// payload accumulates the current payload body.
	payload []byte

	names    []string
	reserved map[string]struct{}
	result   Result
	err      error
}

// New creates a responder session in StateInit. A zero maxPayload selects
// wire.DefaultMaxPayloadSize. A names payload containing any of reserved
// is a protocol violation.
func New(committer Committer, maxPayload uint64, reserved ...string) *Session {
	if maxPayload == 0 {
		maxPayload = wire.DefaultMaxPayloadSize
	}
	s := &Session{
		state:      StateInit,
		maxPayload: maxPayload,
		committer:  committer,
	}
	if len(reserved) > 0 {
		s.reserved = make(map[string]struct{}, len(reserved))
		for _, name := range reserved {
			s.reserved[name] = struct{}{}
		}
	}
	return s
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns the error that moved the session to StateError.
func (s *Session) Err() error { return s.err }

// Result returns the summary of the committed batch. It is only meaningful
// once the data acknowledgment has been produced.
func (s *Session) Result() Result { return s.result }

// Buffered returns the number of inbound bytes currently held.
func (s *Session) Buffered() int { return len(s.pending) + len(s.payload) }

// Feed advances the session with the next chunk read from the connection.
// It returns the acknowledgments to write back, in order. Any error moves
// the session to StateError, drops all buffered data, and is returned
// together with no replies.
func (s *Session) Feed(ctx context.Context, chunk []byte) ([]wire.ControlMessage, error) {
	if s.state == StateError {
		return nil, s.err
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	if s.state == StateClosed {
		return nil, s.fail(newError(ErrProtocol, s.state, nil, "%d bytes after DONE", len(chunk)))
	}

	data := chunk
	if len(s.pending) > 0 {
		data = append(s.pending, chunk...)
		s.pending = nil
	}

	var replies []wire.ControlMessage
	for len(data) > 0 {
		if s.state.Terminal() {
			return nil, s.fail(newError(ErrProtocol, s.state, nil, "%d bytes after DONE", len(data)))
		}

		if s.inPayload {
			n := s.fillPayload(data)
			data = data[n:]
			if uint64(len(s.payload)) < s.declared {
				break
			}
			reply, err := s.completePayload(ctx)
			if err != nil {
				return nil, s.fail(err)
			}
			replies = append(replies, reply)
			continue
		}

		if len(data) < wire.HeaderSize {
			break
		}
		hdr, err := wire.ParseHeader(data)
		if err != nil {
			return nil, s.fail(s.frameError(err))
		}

		if hdr.Tag == wire.TagPayload {
			if err := s.beginPayload(hdr); err != nil {
				return nil, s.fail(err)
			}
			data = data[wire.HeaderSize:]
			if s.declared == 0 {
				reply, err := s.completePayload(ctx)
				if err != nil {
					return nil, s.fail(err)
				}
				replies = append(replies, reply)
			}
			continue
		}

		end := uint64(wire.HeaderSize) + hdr.Length
		if uint64(len(data)) < end {
			break
		}
		msg, err := wire.DecodeControl(data[wire.HeaderSize:end])
		if err != nil {
			return nil, s.fail(s.frameError(err))
		}
		data = data[end:]

		reply, ok, err := s.handleControl(msg)
		if err != nil {
			return nil, s.fail(err)
		}
		if ok {
			replies = append(replies, reply)
		}
	}

	if len(data) > 0 {
		s.pending = append([]byte(nil), data...)
	}
	return replies, nil
}

// End is called when the peer closes its write side. A session that has
// received DONE ends cleanly; anything else is a failure.
func (s *Session) End() error {
	switch {
	case s.state == StateClosed:
		return nil
	case s.state == StateError:
		return s.err
	case s.inPayload:
		return s.fail(newError(ErrSizeMismatch, s.state, nil,
			"stream ended after %d of %d payload bytes", len(s.payload), s.declared))
	case len(s.pending) > 0:
		return s.fail(newError(ErrSizeMismatch, s.state, nil,
			"stream ended inside a frame (%d bytes buffered)", len(s.pending)))
	default:
		return s.fail(newError(ErrConnection, s.state, nil, "stream ended before DONE"))
	}
}

// Abort fails the session with err (for example a read error) and drops
// its buffers.
func (s *Session) Abort(err error) error {
	if s.state == StateError {
		return s.err
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		err = newError(ErrConnection, s.state, err, "connection failed")
	}
	return s.fail(err)
}

func (s *Session) handleControl(msg wire.ControlMessage) (wire.ControlMessage, bool, error) {
	if s.state == StateAwaitDone {
		if msg.Type != wire.TypeDone {
			return wire.ControlMessage{}, false, newError(ErrProtocol, s.state, nil, "expected DONE, got %s", msg)
		}
		s.state = StateClosed
		return wire.ControlMessage{}, false, nil
	}

	st, ok := stepFor(s.state)
	if !ok {
		return wire.ControlMessage{}, false, newError(ErrProtocol, s.state, nil, "unexpected %s", msg)
	}
	if st.inbound != wire.TagControl {
		return wire.ControlMessage{}, false, newError(ErrProtocol, s.state, nil,
			"control message %s while %s payload expected", msg, st.subject)
	}
	if msg.Type != wire.TypeSizeAnnounce || msg.Kind != st.subject {
		return wire.ControlMessage{}, false, newError(ErrProtocol, s.state, nil,
			"expected %s size announcement, got %s", st.subject, msg)
	}
	if msg.Size > s.maxPayload {
		return wire.ControlMessage{}, false, newError(ErrSizeMismatch, s.state, nil,
			"declared size %d exceeds maximum %d", msg.Size, s.maxPayload)
	}

	s.declared = msg.Size
	s.state = st.next
	return wire.Ack(st.ack), true, nil
}

func (s *Session) beginPayload(hdr wire.Header) error {
	st, ok := stepFor(s.state)
	if !ok || st.inbound != wire.TagPayload {
		return newError(ErrProtocol, s.state, nil, "payload frame without size announcement")
	}
	if hdr.Length != s.declared {
		return newError(ErrSizeMismatch, s.state, nil,
			"%s payload frame is %d bytes, declared %d", st.subject, hdr.Length, s.declared)
	}
	s.inPayload = true
	s.payload = make([]byte, 0, min(s.declared, initialPayloadCap))
	return nil
}

// fillPayload copies at most the remaining declared bytes and returns the
// number consumed.
func (s *Session) fillPayload(data []byte) int {
	remaining := s.declared - uint64(len(s.payload))
	n := len(data)
	if uint64(n) > remaining {
		n = int(remaining)
	}
	s.payload = append(s.payload, data[:n]...)
	return n
}

func (s *Session) completePayload(ctx context.Context) (wire.ControlMessage, error) {
	st, _ := stepFor(s.state)
	body := s.payload
	s.payload = nil
	s.inPayload = false

	switch st.subject {
	case wire.KindNames:
		names, err := wire.DecodeNames(body)
		if err != nil {
			return wire.ControlMessage{}, newError(ErrProtocol, s.state, err, "malformed names payload")
		}
		if err := s.validateNames(names); err != nil {
			return wire.ControlMessage{}, newError(ErrProtocol, s.state, err, "invalid names")
		}
		s.names = names
	case wire.KindData:
		contents, err := wire.DecodeContents(body)
		if err != nil {
			return wire.ControlMessage{}, newError(ErrProtocol, s.state, err, "malformed data payload")
		}
		batch, err := types.NewBatch(s.names, contents)
		if err != nil {
			return wire.ControlMessage{}, newError(ErrProtocol, s.state, err, "data does not match names")
		}
		if err := s.committer.CommitBatch(ctx, batch); err != nil {
			return wire.ControlMessage{}, newError(ErrFilesystem, s.state, err, "commit batch")
		}
		s.result = Result{Files: batch.Names(), Bytes: batch.Size()}
		s.names = nil
	}

	s.state = st.next
	return wire.Ack(st.ack), nil
}

func (s *Session) frameError(err error) error {
	if wire.IsSizeFrameError(err) {
		return newError(ErrSizeMismatch, s.state, err, "bad frame")
	}
	return newError(ErrProtocol, s.state, err, "bad frame")
}

func (s *Session) fail(err error) error {
	s.state = StateError
	s.err = err
	s.pending = nil
	s.payload = nil
	s.inPayload = false
	s.names = nil
	return err
}

func (s *Session) validateNames(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := types.ValidateName(name); err != nil {
			return err
		}
		if _, ok := s.reserved[name]; ok {
			return fmt.Errorf("%w: %q", ErrReservedName, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", types.ErrDuplicateName, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
