package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageType is the discriminant of a ControlMessage.
type MessageType string

// Control message types.
const (
	TypeSizeAnnounce MessageType = "size_announce"
	TypeAck          MessageType = "ack"
	TypeDone         MessageType = "done"
)

// Kind names the subject of a size announcement or acknowledgment.
type Kind string

// Size announcements use KindNames and KindData. Acknowledgments use all four.
const (
	KindNames        Kind = "names"
	KindData         Kind = "data"
	KindNamesPayload Kind = "names_payload"
	KindDataPayload  Kind = "data_payload"
)

// ControlMessage is a control frame body.
type ControlMessage struct {
	Type MessageType `msgpack:"type"`
	Kind Kind        `msgpack:"kind,omitempty"`
	Size uint64      `msgpack:"size,omitempty"`
}

// SizeAnnounce announces the byte length of the next payload.
func SizeAnnounce(kind Kind, size uint64) ControlMessage {
	return ControlMessage{Type: TypeSizeAnnounce, Kind: kind, Size: size}
}

// Ack acknowledges a size announcement or a completed payload.
func Ack(kind Kind) ControlMessage {
	return ControlMessage{Type: TypeAck, Kind: kind}
}

// Done ends a session.
func Done() ControlMessage {
	return ControlMessage{Type: TypeDone}
}

// Validate checks the type/kind combination.
func (m ControlMessage) Validate() error {
	switch m.Type {
	case TypeSizeAnnounce:
		if m.Kind != KindNames && m.Kind != KindData {
			return fmt.Errorf("size announcement with invalid kind %q", m.Kind)
		}
	case TypeAck:
		switch m.Kind {
		case KindNames, KindData, KindNamesPayload, KindDataPayload:
		default:
			return fmt.Errorf("ack with invalid kind %q", m.Kind)
		}
	case TypeDone:
		if m.Kind != "" || m.Size != 0 {
			return fmt.Errorf("done message carries unexpected fields")
		}
	default:
		return fmt.Errorf("unknown control message type %q", m.Type)
	}
	return nil
}

// String renders the message in the line vocabulary operators know from
// collector logs: NSIZE, GOT_NSIZE, GOT_NAMES, DSIZE, GOT_DSIZE, GOT_DATA, DONE.
func (m ControlMessage) String() string {
	switch m.Type {
	case TypeSizeAnnounce:
		if m.Kind == KindNames {
			return fmt.Sprintf("NSIZE %d", m.Size)
		}
		return fmt.Sprintf("DSIZE %d", m.Size)
	case TypeAck:
		switch m.Kind {
		case KindNames:
			return "GOT_NSIZE"
		case KindNamesPayload:
			return "GOT_NAMES"
		case KindData:
			return "GOT_DSIZE"
		case KindDataPayload:
			return "GOT_DATA"
		}
	case TypeDone:
		return "DONE"
	}
	return fmt.Sprintf("%s(%s)", m.Type, m.Kind)
}

// EncodeControl encodes msg as a complete control frame.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}
	frame := make([]byte, 0, HeaderSize+len(body))
	frame = AppendHeader(frame, TagControl, uint64(len(body)))
	return append(frame, body...), nil
}

// DecodeControl decodes and validates a control frame body.
func DecodeControl(body []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return ControlMessage{}, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode control message",
			Err:  err,
		}
	}
	if err := msg.Validate(); err != nil {
		return ControlMessage{}, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "invalid control message",
			Err:  err,
		}
	}
	return msg, nil
}
