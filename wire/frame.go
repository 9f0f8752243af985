// Package wire implements the tagged framing used between producer and
// collector.
//
// Every message on the stream is a frame:
//
//	[1 byte tag][8 byte big-endian length][length bytes of body]
//
// Control frames carry a msgpack ControlMessage. Payload frames carry the
// raw bytes of an encoded name list or content list. The tag is decoded
// before any branching, so a chunk is never classified by sniffing its
// leading bytes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// HeaderSize is the size of a frame header in bytes.
	HeaderSize = 9
	// MaxControlSize bounds the body of a control frame.
	MaxControlSize = 4 * 1024
	// DefaultMaxPayloadSize is the default bound on a single payload (1 GiB).
	DefaultMaxPayloadSize = 1 << 30
)

// Tag discriminates frame bodies.
type Tag byte

const (
	// TagControl marks a msgpack-encoded ControlMessage body.
	TagControl Tag = 0x01
	// TagPayload marks a raw payload body.
	TagPayload Tag = 0x02
)

func (t Tag) String() string {
	switch t {
	case TagControl:
		return "control"
	case TagPayload:
		return "payload"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the stream ended inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding its size bound.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
	// FrameErrorUnknownTag indicates a header with an unknown tag.
	FrameErrorUnknownTag
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsSizeError reports whether the error is about frame length rather than
// frame content.
func (e *FrameError) IsSizeError() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsSizeFrameError returns true if err is a FrameError about frame length.
func IsSizeFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsSizeError()
	}
	return false
}

// Header is a decoded frame header.
type Header struct {
	Tag    Tag
	Length uint64
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
// Control frames larger than MaxControlSize are rejected here, before any
// body byte is buffered.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("short header: %d of %d bytes", len(b), HeaderSize),
		}
	}
	h := Header{
		Tag:    Tag(b[0]),
		Length: binary.BigEndian.Uint64(b[1:HeaderSize]),
	}
	switch h.Tag {
	case TagControl:
		if h.Length > MaxControlSize {
			return Header{}, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("control frame size %d exceeds maximum %d", h.Length, MaxControlSize),
			}
		}
	case TagPayload:
	default:
		return Header{}, &FrameError{
			Kind: FrameErrorUnknownTag,
			Msg:  fmt.Sprintf("unknown frame %s", h.Tag),
		}
	}
	return h, nil
}

// AppendHeader appends an encoded header to dst.
func AppendHeader(dst []byte, tag Tag, length uint64) []byte {
	var hdr [HeaderSize]byte
	hdr[0] = byte(tag)
	binary.BigEndian.PutUint64(hdr[1:], length)
	return append(dst, hdr[:]...)
}

// Frame is one decoded frame. Control is set for TagControl frames and
// Payload for TagPayload frames.
type Frame struct {
	Tag     Tag
	Control ControlMessage
	Payload []byte
}

// Encoder writes frames to a stream.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteControl writes a control frame.
func (e *Encoder) WriteControl(msg ControlMessage) error {
	frame, err := EncodeControl(msg)
	if err != nil {
		return err
	}
	_, err = e.w.Write(frame)
	return err
}

// WritePayload writes a payload frame. The header and body are written
// separately so large payloads are not copied.
func (e *Encoder) WritePayload(body []byte) error {
	hdr := AppendHeader(make([]byte, 0, HeaderSize), TagPayload, uint64(len(body)))
	if _, err := e.w.Write(hdr); err != nil {
		return err
	}
	_, err := e.w.Write(body)
	return err
}

// Decoder reads whole frames from a blocking stream. The collector does not
// use it; it feeds arbitrary chunks to a session instead.
type Decoder struct {
	reader     io.Reader
	maxPayload uint64
}

// NewDecoder creates a new frame decoder bounded by maxPayload.
// A zero maxPayload selects DefaultMaxPayloadSize.
func NewDecoder(r io.Reader, maxPayload uint64) *Decoder {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	return &Decoder{reader: r, maxPayload: maxPayload}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FrameError with Kind=FrameErrorPartial: stream ended inside a frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds its bound
//   - *FrameError with Kind=FrameErrorUnknownTag or FrameErrorDecode
func (d *Decoder) ReadFrame() (Frame, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(d.reader, hdrBuf[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read frame header",
			Err:  err,
		}
	}

	hdr, err := ParseHeader(hdrBuf[:])
	if err != nil {
		return Frame{}, err
	}
	if hdr.Tag == TagPayload && hdr.Length > d.maxPayload {
		return Frame{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", hdr.Length, d.maxPayload),
		}
	}

	body := make([]byte, hdr.Length)
	if _, err := io.ReadFull(d.reader, body); err != nil {
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read frame body",
			Err:  err,
		}
	}

	if hdr.Tag == TagPayload {
		return Frame{Tag: TagPayload, Payload: body}, nil
	}
	msg, err := DecodeControl(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Tag: TagControl, Control: msg}, nil
}
