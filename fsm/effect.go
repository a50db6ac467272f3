package fsm

import "github.com/polaris-bgp/bgpd/packet"

// EffectKind identifies the kind of Effect the FSM asks a driver to realize.
type EffectKind uint8

const (
	// EffectSend is {send, message}: write message on the wire.
	EffectSend EffectKind = iota
	// EffectTCPConnect is {tcp_connection, connect}: initiate the outbound
	// TCP connection.
	EffectTCPConnect
	// EffectTCPReconnect is {tcp_connection, reconnect}: close and
	// re-initiate the outbound TCP connection.
	EffectTCPReconnect
	// EffectTCPDisconnect is {tcp_connection, disconnect}: close the TCP
	// connection.
	EffectTCPDisconnect
	// EffectDeliverUpdate bubbles a decoded UPDATE message up to the caller
	// for the RDE, per the Established state's {recv, UPDATE} transition.
	EffectDeliverUpdate
)

func (k EffectKind) String() string {
	switch k {
	case EffectSend:
		return "send"
	case EffectTCPConnect:
		return "tcp_connect"
	case EffectTCPReconnect:
		return "tcp_reconnect"
	case EffectTCPDisconnect:
		return "tcp_disconnect"
	case EffectDeliverUpdate:
		return "deliver_update"
	default:
		return "unknown"
	}
}

// Effect is a single side effect the FSM asks its caller to perform. Effects
// are returned as an ordered slice from every transition and must be applied
// in order before the next Event is processed.
type Effect struct {
	Kind    EffectKind
	Message packet.Message // set when Kind == EffectSend or EffectDeliverUpdate
}

func sendEffect(m packet.Message) Effect {
	return Effect{Kind: EffectSend, Message: m}
}

func deliverUpdateEffect(u *packet.UpdateMessage) Effect {
	return Effect{Kind: EffectDeliverUpdate, Message: u}
}

var (
	connectEffect    = Effect{Kind: EffectTCPConnect}
	reconnectEffect  = Effect{Kind: EffectTCPReconnect}
	disconnectEffect = Effect{Kind: EffectTCPDisconnect}
)
