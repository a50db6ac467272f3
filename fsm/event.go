package fsm

import (
	"time"

	"github.com/polaris-bgp/bgpd/packet"
)

// EventKind identifies the kind of Event delivered to the FSM.
type EventKind uint8

const (
	// EventStart is {start, manual|automatic, active|passive}.
	EventStart EventKind = iota
	// EventStop is {stop, manual|automatic}.
	EventStop
	// EventTCPConnectionSucceeds is {tcp_connection, succeeds}.
	EventTCPConnectionSucceeds
	// EventTCPConnectionConfirmed is {tcp_connection, confirmed}, delivered by
	// session.Session when it adopts an inbound connection that the Server's
	// accept loop routed to it by remote host.
	EventTCPConnectionConfirmed
	// EventTCPConnectionFails is {tcp_connection, fails}.
	EventTCPConnectionFails
	// EventRecv is {recv, message}.
	EventRecv
	// EventTimerExpired is {timer, name, expired}.
	EventTimerExpired
	// EventCollisionDump is {error, open_collision_dump}, delivered by the
	// collision arbiter to the losing side of a connection collision.
	EventCollisionDump
)

// Cause distinguishes a manually-initiated Start/Stop from an
// automatically-initiated one: a manual stop zeros the connect-retry
// counter, an automatic one increments it.
type Cause uint8

const (
	CauseAutomatic Cause = iota
	CauseManual
)

// Event is a single input to the FSM. Only the fields relevant to Kind are
// populated; Now is always required since the FSM is otherwise a pure
// function of its arguments and must not read the wall clock itself.
type Event struct {
	Kind  EventKind
	Now   time.Time
	Cause Cause

	// Mode is set on EventStart.
	Mode Mode

	// TimerName is set on EventTimerExpired.
	TimerName string

	// Message is set on EventRecv.
	Message packet.Message
}

// StartEvent builds an {start, cause, mode} event.
func StartEvent(now time.Time, cause Cause, mode Mode) Event {
	return Event{Kind: EventStart, Now: now, Cause: cause, Mode: mode}
}

// StopEvent builds a {stop, cause} event.
func StopEvent(now time.Time, cause Cause) Event {
	return Event{Kind: EventStop, Now: now, Cause: cause}
}

// TCPConnectionEvent builds a {tcp_connection, kind} event, kind one of
// EventTCPConnectionSucceeds, EventTCPConnectionConfirmed,
// EventTCPConnectionFails.
func TCPConnectionEvent(now time.Time, kind EventKind) Event {
	return Event{Kind: kind, Now: now}
}

// RecvEvent builds a {recv, message} event.
func RecvEvent(now time.Time, m packet.Message) Event {
	return Event{Kind: EventRecv, Now: now, Message: m}
}

// TimerExpiredEvent builds a {timer, name, expired} event.
func TimerExpiredEvent(now time.Time, name string) Event {
	return Event{Kind: EventTimerExpired, Now: now, TimerName: name}
}

// CollisionDumpEvent builds an {error, open_collision_dump} event.
func CollisionDumpEvent(now time.Time) Event {
	return Event{Kind: EventCollisionDump, Now: now}
}
