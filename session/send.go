package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/inealey/cinema-transfer/iox"
	"github.com/inealey/cinema-transfer/types"
	"github.com/inealey/cinema-transfer/wire"
)

// DefaultTimeout bounds every blocking step of the initiator.
const DefaultTimeout = 30 * time.Second

// SendOptions configures the initiator.
type SendOptions struct {
	// Timeout bounds each write and each wait for an acknowledgment.
	// Zero selects DefaultTimeout.
	Timeout time.Duration
	// OnAck is called after every acknowledgment, for progress reporting.
	OnAck func(ack wire.ControlMessage)
}

// Send drives the initiator side of the handshake for batch over conn.
// It returns nil once DONE has been written; the caller then records the
// batch as delivered. Send does not close conn.
func Send(ctx context.Context, conn net.Conn, batch types.Batch, opts SendOptions) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	names, err := wire.EncodeNames(batch.Names())
	if err != nil {
		return fmt.Errorf("encode names: %w", err)
	}
	contents, err := wire.EncodeContents(batch.Contents())
	if err != nil {
		return fmt.Errorf("encode contents: %w", err)
	}
	bodies := map[wire.Kind][]byte{
		wire.KindNames: names,
		wire.KindData:  contents,
	}

	// Cancellation unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	enc := wire.NewEncoder(conn)
	dec := wire.NewDecoder(conn, wire.MaxControlSize)

	for _, st := range handshake {
		if err := conn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
			return newError(ErrConnection, st.state, err, "set deadline")
		}

		body := bodies[st.subject]
		if st.inbound == wire.TagControl {
			err = enc.WriteControl(wire.SizeAnnounce(st.subject, uint64(len(body))))
		} else {
			err = enc.WritePayload(body)
		}
		if err != nil {
			return sendError(ctx, st.state, err, "write")
		}

		ack, err := readAck(dec)
		if err != nil {
			return sendError(ctx, st.state, err, "await acknowledgment")
		}
		if ack != wire.Ack(st.ack) {
			return newError(ErrProtocol, st.state, nil, "expected %s, got %s", wire.Ack(st.ack), ack)
		}
		if opts.OnAck != nil {
			opts.OnAck(ack)
		}
	}

	if err := conn.SetDeadline(time.Now().Add(opts.Timeout)); err != nil {
		return newError(ErrConnection, StateAwaitDone, err, "set deadline")
	}
	if err := enc.WriteControl(wire.Done()); err != nil {
		return sendError(ctx, StateAwaitDone, err, "write")
	}
	if iox.CloseWrite(conn) {
		// The responder half-closes after DONE. Its EOF only confirms the
		// teardown; the batch was committed before GOT_DATA.
		iox.Drain(conn)
	}
	return nil
}

func readAck(dec *wire.Decoder) (wire.ControlMessage, error) {
	frame, err := dec.ReadFrame()
	if err != nil {
		return wire.ControlMessage{}, err
	}
	if frame.Tag != wire.TagControl || frame.Control.Type != wire.TypeAck {
		return wire.ControlMessage{}, newError(ErrProtocol, StateError, nil, "expected acknowledgment frame, got %s", frame.Tag)
	}
	return frame.Control, nil
}

// sendError classifies an initiator I/O failure.
func sendError(ctx context.Context, state State, err error, op string) error {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		sessErr.State = state
		return sessErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(ErrConnection, state, ctxErr, "%s", op)
	}
	if errors.Is(err, io.EOF) {
		return newError(ErrConnection, state, err, "%s: peer closed the connection", op)
	}
	var frameErr *wire.FrameError
	if errors.As(err, &frameErr) {
		if frameErr.Kind == wire.FrameErrorPartial {
			return newError(ErrConnection, state, err, "%s: stream interrupted", op)
		}
		return newError(ErrProtocol, state, err, "%s", op)
	}
	return newError(ErrConnection, state, err, "%s", op)
}
