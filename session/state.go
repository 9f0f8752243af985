// Package session implements the batch handshake run by both ends of one
// connection.
//
// The handshake is strictly half-duplex. The initiator sends one message
// and blocks until the matching acknowledgment arrives:
//
//	→ NSIZE n      ← GOT_NSIZE
//	→ names (n)    ← GOT_NAMES
//	→ DSIZE m      ← GOT_DSIZE
//	→ data (m)     ← GOT_DATA
//	→ DONE         (both sides half-close)
//
// Both roles walk the same handshake table. The responder side is an
// incremental state machine (Session.Feed) that accepts arbitrary chunks,
// so a collector can advance many sessions one readiness event at a time.
// The initiator side (Send) is sequential and blocking.
package session

import (
	"fmt"

	"github.com/inealey/cinema-transfer/wire"
)

// State is the position of a session in the handshake. States are named
// from the initiator's side: in StateAwaitNamesAck the initiator has sent
// the names payload and waits for GOT_NAMES while the responder receives it.
type State int

const (
	// StateInit expects SizeAnnounce(names).
	StateInit State = iota
	// StateAwaitNamesAck expects the names payload.
	StateAwaitNamesAck
	// StateAwaitDataSizeAck expects SizeAnnounce(data).
	StateAwaitDataSizeAck
	// StateAwaitDataAck expects the data payload.
	StateAwaitDataAck
	// StateAwaitDone expects DONE.
	StateAwaitDone
	// StateClosed is terminal: the handshake completed.
	StateClosed
	// StateError is terminal: the session failed and its buffers were dropped.
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAwaitNamesAck:
		return "await_names_ack"
	case StateAwaitDataSizeAck:
		return "await_data_size_ack"
	case StateAwaitDataAck:
		return "await_data_ack"
	case StateAwaitDone:
		return "await_done"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// step is one row of the handshake table.
type step struct {
	// state is the state this row applies to.
	state State
	// inbound is the frame tag the responder expects.
	inbound wire.Tag
	// subject selects the list (names or data) the row is about.
	subject wire.Kind
	// ack is the acknowledgment the responder returns.
	ack wire.Kind
	// next is the state after the acknowledgment.
	next State
}

var handshake = [...]step{
	{StateInit, wire.TagControl, wire.KindNames, wire.KindNames, StateAwaitNamesAck},
	{StateAwaitNamesAck, wire.TagPayload, wire.KindNames, wire.KindNamesPayload, StateAwaitDataSizeAck},
	{StateAwaitDataSizeAck, wire.TagControl, wire.KindData, wire.KindData, StateAwaitDataAck},
	{StateAwaitDataAck, wire.TagPayload, wire.KindData, wire.KindDataPayload, StateAwaitDone},
}

// stepFor returns the handshake row for s. StateAwaitDone and the terminal
// states have no row.
func stepFor(s State) (step, bool) {
	for _, st := range handshake {
		if st.state == s {
			return st, true
		}
	}
	return step{}, false
}
