// Package fsm implements the BGP peer state machine as a pure function from
// (FSM, Event) to (FSM, []Effect), per RFC 4271 section 8. It performs no I/O
// of its own: sockets, timers, and the network are owned by the caller
// (session) which translates Effects into side effects and feeds Events back
// in.
package fsm

import (
	"time"

	"github.com/polaris-bgp/bgpd/packet"
	"github.com/polaris-bgp/bgpd/timer"
)

// State is one of the six states of the BGP peer FSM.
type State uint8

const (
	Idle State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connect:
		return "connect"
	case Active:
		return "active"
	case OpenSent:
		return "open_sent"
	case OpenConfirm:
		return "open_confirm"
	case Established:
		return "established"
	default:
		return "unknown"
	}
}

// Mode is the configured connection mode of a peer: the FSM initiates the
// outbound connection itself (Active) or waits for the peer to connect
// (Passive).
type Mode uint8

const (
	ModeActive Mode = iota
	ModePassive
)

// Names of the four core timers, used both as map-free struct fields on FSM
// and as the name carried by TimerExpiredEvent.
const (
	TimerConnectRetry = "connect_retry"
	TimerDelayOpen    = "delay_open"
	TimerHoldTime     = "hold_time"
	TimerKeepAlive    = "keep_alive"
)

// DelayOpenConfig is the peer's configured DelayOpen behavior.
type DelayOpenConfig struct {
	Enabled bool
	Seconds time.Duration
}

// Config is the immutable-after-start peer configuration an FSM is built
// from. It mirrors the Peer configuration in the data model: ASN/BGP-ID are
// in host byte order, BGPID as a uint32.
type Config struct {
	LocalASN                uint32
	LocalBGPID              uint32
	PeerASN                 uint32
	PeerBGPID               uint32
	Mode                    Mode
	ConnectRetrySeconds     time.Duration
	HoldTimeSeconds         time.Duration
	KeepAliveSeconds        time.Duration
	DelayOpen               DelayOpenConfig
	NotificationWithoutOpen bool
	Capabilities            []packet.Capability
}

// FSM is an immutable value holding one peer session's complete state. Every
// transition is expressed as a method that returns a new FSM value plus the
// effects the caller must realize; FSM never mutates in place and never
// performs I/O.
type FSM struct {
	cfg      Config
	state    State
	internal bool

	connectRetryTimer timer.Timer
	delayOpenTimer    timer.Timer
	holdTimer         timer.Timer
	keepAliveTimer    timer.Timer

	connectRetryCounter int

	// negotiatedHoldTime and negotiatedCaps are set on entry to OpenConfirm
	// and consulted by callers (the codec, keep-alive timer math) until the
	// FSM returns to Idle.
	negotiatedHoldTime time.Duration
	negotiatedCaps     packet.NegotiatedCapabilities
}

// New returns an FSM in the Idle state for cfg. The four core timers are
// configured (but not started) from cfg's seconds fields.
func New(cfg Config) FSM {
	return FSM{
		cfg:               cfg,
		state:             Idle,
		connectRetryTimer: timer.New(TimerConnectRetry, cfg.ConnectRetrySeconds),
		delayOpenTimer:    timer.New(TimerDelayOpen, delayOpenSeconds(cfg.DelayOpen)),
		holdTimer:         timer.New(TimerHoldTime, cfg.HoldTimeSeconds),
		keepAliveTimer:    timer.New(TimerKeepAlive, cfg.KeepAliveSeconds),
	}
}

func delayOpenSeconds(d DelayOpenConfig) time.Duration {
	if !d.Enabled {
		return 0
	}
	return d.Seconds
}

// State returns f's current state.
func (f FSM) State() State { return f.state }

// Internal reports whether the session is iBGP (peer ASN == local ASN), a
// fact only known once an OPEN has been received.
func (f FSM) Internal() bool { return f.internal }

// ConnectRetryCounter returns the current connect-retry counter, incremented
// on non-manual failures as a basis for a supervisor's exponential
// back-off.
func (f FSM) ConnectRetryCounter() int { return f.connectRetryCounter }

// NegotiatedCapabilities returns the capability set negotiated at the last
// successful OPEN exchange, for the codec to consult on post-OPEN decodes.
func (f FSM) NegotiatedCapabilities() packet.NegotiatedCapabilities { return f.negotiatedCaps }

// NegotiatedHoldTime returns the hold time negotiated at the last successful
// OPEN exchange.
func (f FSM) NegotiatedHoldTime() time.Duration { return f.negotiatedHoldTime }

// HoldTimer, KeepAliveTimer, ConnectRetryTimer, DelayOpenTimer expose the four
// core timers so a driver can arm OS-level timers matching the FSM's idea of
// what should be running; the FSM itself never reads the wall clock except
// when a caller passes it in via Now in an Event.
func (f FSM) HoldTimer() timer.Timer         { return f.holdTimer }
func (f FSM) KeepAliveTimer() timer.Timer    { return f.keepAliveTimer }
func (f FSM) ConnectRetryTimer() timer.Timer { return f.connectRetryTimer }
func (f FSM) DelayOpenTimer() timer.Timer    { return f.delayOpenTimer }
