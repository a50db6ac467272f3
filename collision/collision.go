// Package collision implements the connection-collision arbiter: when both
// an inbound (Listener) and outbound (Session) TCP connection exist to the
// same peer, exactly one must survive. The arbiter is a pure function of the
// two sides' BGP-IDs and the incumbent FSM's state; session.Session consults
// it synchronously when it adopts a new TCP connection while another one to
// the same peer is already live.
package collision

import "github.com/polaris-bgp/bgpd/fsm"

// Result is the arbiter's verdict for the newly-arriving side of a
// collision.
type Result uint8

const (
	// OK means no collision: the caller's connection may proceed.
	OK Result = iota
	// Collision means the caller's new connection must be torn down; the
	// incumbent survives unmodified.
	Collision
	// Close means the caller's connection has won; the incumbent FSM is
	// being (or must be) dumped via an open_collision_dump event and its
	// connection closed.
	Close
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Collision:
		return "collision"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Arbitrate decides which of a collision's two sides survives, given the
// incumbent side's current FSM state and the two peers' BGP-IDs, compared as
// unsigned 32-bit integers in network byte order.
//
// incumbentState is the state of the connection already registered (Session
// for an inbound collision check, Listener for an outbound one);
// localBGPID/peerBGPID are the local router's and the remote peer's BGP-IDs.
// The result describes what the *new, arriving* connection should do.
func Arbitrate(incumbentState fsm.State, localBGPID, peerBGPID uint32) Result {
	switch incumbentState {
	case fsm.Established:
		return Collision
	case fsm.OpenSent, fsm.OpenConfirm:
		if localBGPID > peerBGPID {
			return Collision
		}
		return Close
	default:
		return OK
	}
}
