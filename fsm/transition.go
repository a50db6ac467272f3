package fsm

import (
	"time"

	"github.com/polaris-bgp/bgpd/packet"
)

// Event applies ev to f and returns the resulting FSM value plus the ordered
// effects the caller must realize before the next Event is processed. Event
// never blocks and never fails to return: for any (state, event) pair not
// named explicitly below, the default transition applies -- idle, a
// connect-retry counter increment, and a disconnect effect.
func (f FSM) Event(ev Event) (FSM, []Effect) {
	switch f.state {
	case Idle:
		return f.idleEvent(ev)
	case Connect:
		return f.connectEvent(ev)
	case Active:
		return f.activeEvent(ev)
	case OpenSent:
		return f.openSentEvent(ev)
	case OpenConfirm:
		return f.openConfirmEvent(ev)
	case Established:
		return f.establishedEvent(ev)
	default:
		return f, nil
	}
}

// toIdleDefault is the catch-all fallback: any event not otherwise handled
// in the current state returns to Idle, increments the connect-retry
// counter, and disconnects.
func (f FSM) toIdleDefault() (FSM, []Effect) {
	f = f.reset()
	f.connectRetryCounter++
	return f, []Effect{disconnectEffect}
}

// reset clears per-connection state (timers, negotiated values, internal
// flag) on the way back to Idle. The connect-retry counter is left to the
// caller, since some Idle transitions zero it and some increment it.
func (f FSM) reset() FSM {
	f.state = Idle
	f.internal = false
	f.negotiatedHoldTime = 0
	f.negotiatedCaps = packet.NegotiatedCapabilities{}
	f.connectRetryTimer = f.connectRetryTimer.Stop()
	f.delayOpenTimer = f.delayOpenTimer.Stop()
	f.holdTimer = f.holdTimer.Stop()
	f.keepAliveTimer = f.keepAliveTimer.Stop()
	return f
}

func ceaseNotification() *packet.Notification {
	return packet.NewNotification(packet.NotifCodeCease, 0, nil)
}

func holdTimerExpiredNotification() *packet.Notification {
	return packet.NewNotification(packet.NotifCodeHoldTimerExpired, 0, nil)
}

func fsmErrorNotification(state State) *packet.Notification {
	var subcode uint8
	switch state {
	case OpenSent:
		subcode = packet.NotifSubcodeRxUnexpectedMessageOpenSent
	case OpenConfirm:
		subcode = packet.NotifSubcodeRxUnexpectedMessageOpenConfirm
	case Established:
		subcode = packet.NotifSubcodeRxUnexpectedMessageEstablished
	}
	return packet.NewNotification(packet.NotifCodeFSMErr, subcode, nil)
}

// newOpenMessage builds the OPEN message the FSM emits on entering OpenSent,
// advertising the peer's capabilities plus the mandatory FourOctetsASN one
// that packet.NewOpenMessage always adds.
func (f FSM) newOpenMessage() *packet.OpenMessage {
	return packet.NewOpenMessage(f.cfg.LocalASN, f.cfg.HoldTimeSeconds, f.cfg.LocalBGPID, f.cfg.Capabilities)
}

// stopEffects builds the effects for a {stop, cause} transition, common to
// every non-Idle state's cancellation path: a cease NOTIFICATION (only if
// notification_without_open, or unconditionally once an OPEN has already
// been exchanged) followed by disconnect.
func (f FSM) stopEffects(sendCease bool) []Effect {
	if sendCease {
		return []Effect{sendEffect(ceaseNotification()), disconnectEffect}
	}
	return []Effect{disconnectEffect}
}

// idleEvent implements the Idle state's transitions.
func (f FSM) idleEvent(ev Event) (FSM, []Effect) {
	if ev.Kind == EventStart {
		f.connectRetryCounter = 0
		f.connectRetryTimer = f.connectRetryTimer.Start(ev.Now)
		switch ev.Mode {
		case ModeActive:
			f.state = Connect
			return f, []Effect{connectEffect}
		case ModePassive:
			f.state = Active
			return f, nil
		}
	}
	// all other events: stay idle, no effects.
	return f, nil
}

// connectEvent implements the Connect state's transitions.
func (f FSM) connectEvent(ev Event) (FSM, []Effect) {
	switch ev.Kind {
	case EventTimerExpired:
		if ev.TimerName == TimerConnectRetry && f.connectRetryTimer.Running() {
			f.connectRetryTimer = f.connectRetryTimer.Restart(ev.Now)
			f.delayOpenTimer = f.delayOpenTimer.Stop()
			return f, []Effect{reconnectEffect}
		}
		if ev.TimerName == TimerDelayOpen && f.delayOpenTimer.Running() {
			f.delayOpenTimer = f.delayOpenTimer.Stop()
			f.holdTimer = f.holdTimer.Start(ev.Now)
			f.state = OpenSent
			return f, []Effect{sendEffect(f.newOpenMessage())}
		}
	case EventTCPConnectionSucceeds, EventTCPConnectionConfirmed:
		// Confirmed (an inbound connection accepted while still dialing) and
		// Succeeds (the outbound dial itself completing) are equivalent
		// inputs to Connect: either way a TCP connection now exists.
		if f.cfg.DelayOpen.Enabled {
			f.connectRetryTimer = f.connectRetryTimer.Stop()
			f.delayOpenTimer = f.delayOpenTimer.Start(ev.Now)
			return f, nil
		}
		f.holdTimer = f.holdTimer.Start(ev.Now)
		f.state = OpenSent
		return f, []Effect{sendEffect(f.newOpenMessage())}
	case EventTCPConnectionFails:
		if f.delayOpenTimer.Running() {
			f.state = Active
			f.connectRetryTimer = f.connectRetryTimer.Restart(ev.Now)
			return f, nil
		}
		return f.toIdleDefault2(false)
	case EventRecv:
		if om, ok := ev.Message.(*packet.OpenMessage); ok && f.delayOpenTimer.Running() {
			return f.acceptOpen(ev.Now, om)
		}
		if n, ok := ev.Message.(*packet.Notification); ok && isUnsupportedVersion(n) {
			increment := !f.delayOpenTimer.Running()
			f = f.reset()
			if increment {
				f.connectRetryCounter++
			}
			return f, nil
		}
	case EventStop:
		return f.manualStop(ev, f.cfg.NotificationWithoutOpen)
	}
	return f.toIdleDefault()
}

// manualStop implements the {stop, cause} cancellation path shared by every
// state once a session attempt is underway: emit a cease NOTIFICATION
// (gated by sendCease before an OPEN has been exchanged, always sent
// afterward) and disconnect; a manual stop zeros the connect-retry counter,
// an automatic one increments it.
func (f FSM) manualStop(ev Event, sendCease bool) (FSM, []Effect) {
	eff := f.stopEffects(sendCease)
	f = f.reset()
	if ev.Cause == CauseAutomatic {
		f.connectRetryCounter++
	} else {
		f.connectRetryCounter = 0
	}
	return f, eff
}

// toIdleDefault2 returns to Idle without the default counter-increment when
// increment is false; used by the Connect -> Idle path on tcp_connection
// fails with delay_open not running, which returns to Idle and disconnects
// without incrementing the counter.
func (f FSM) toIdleDefault2(increment bool) (FSM, []Effect) {
	f = f.reset()
	if increment {
		f.connectRetryCounter++
	}
	return f, []Effect{disconnectEffect}
}

// activeEvent implements the Active state's transitions.
func (f FSM) activeEvent(ev Event) (FSM, []Effect) {
	switch ev.Kind {
	case EventTimerExpired:
		if ev.TimerName == TimerConnectRetry && f.connectRetryTimer.Running() {
			f.connectRetryTimer = f.connectRetryTimer.Restart(ev.Now)
			f.state = Connect
			return f, nil
		}
		if ev.TimerName == TimerDelayOpen && f.delayOpenTimer.Running() {
			f.delayOpenTimer = f.delayOpenTimer.Stop()
			f.holdTimer = f.holdTimer.Start(ev.Now)
			f.state = OpenSent
			return f, []Effect{sendEffect(f.newOpenMessage())}
		}
	case EventTCPConnectionSucceeds, EventTCPConnectionConfirmed:
		// Confirmed (an inbound connection handed to the Session) and
		// Succeeds (an outbound dial completing) are equivalent inputs to
		// Active: either way the TCP connection now exists.
		if f.cfg.DelayOpen.Enabled {
			f.delayOpenTimer = f.delayOpenTimer.Start(ev.Now)
			return f, nil
		}
		f.holdTimer = f.holdTimer.Start(ev.Now)
		f.state = OpenSent
		return f, []Effect{sendEffect(f.newOpenMessage())}
	case EventTCPConnectionFails:
		f = f.reset()
		f.connectRetryTimer = f.connectRetryTimer.Restart(ev.Now)
		f.connectRetryCounter++
		return f, nil
	case EventRecv:
		if om, ok := ev.Message.(*packet.OpenMessage); ok {
			return f.acceptOpen(ev.Now, om)
		}
	case EventStop:
		return f.manualStop(ev, f.cfg.NotificationWithoutOpen)
	}
	return f.toIdleDefault()
}

// acceptOpen is shared by Connect and Active: a received OPEN while
// delay_open is running (or, in Active's case, any received OPEN) validates
// the peer's OPEN and, on success, transitions to OpenConfirm.
func (f FSM) acceptOpen(now time.Time, om *packet.OpenMessage) (FSM, []Effect) {
	if nf, eff, bad := f.rejectInvalidOpen(now, om); bad {
		return nf, eff
	}
	f.connectRetryTimer = f.connectRetryTimer.Stop()
	f.delayOpenTimer = f.delayOpenTimer.Stop()
	if om.HoldTime > 0 {
		negotiated := f.cfg.HoldTimeSeconds
		if peer := time.Duration(om.HoldTime) * time.Second; peer < negotiated {
			negotiated = peer
		}
		f.negotiatedHoldTime = negotiated
		f.holdTimer = f.holdTimer.WithSeconds(negotiated).Start(now)
		f.keepAliveTimer = f.keepAliveTimer.WithSeconds(negotiated / 3).Start(now)
	} else {
		f.negotiatedHoldTime = 0
		f.holdTimer = f.holdTimer.Stop()
		f.keepAliveTimer = f.keepAliveTimer.Stop()
	}
	f.internal = peerMatchesOpen(f.cfg.LocalASN, om)
	f.negotiatedCaps = negotiatedCapsFromOpen(om)
	f.state = OpenConfirm
	return f, []Effect{sendEffect(f.newOpenMessage()), sendEffect(packet.KeepAliveMessage{})}
}

func peerMatchesOpen(peerASN uint32, om *packet.OpenMessage) bool {
	if asn, ok := om.FourOctetASN(); ok {
		return asn == peerASN
	}
	return uint32(om.ASN) == peerASN
}

// rejectInvalidOpen validates om and, if invalid, returns the FSM
// transitioned back to Idle plus the effects to emit: a reflected
// NOTIFICATION and a disconnect. The connect-retry counter is incremented
// unless the failure is specifically an unsupported-version error, per
// scenario 5.
func (f FSM) rejectInvalidOpen(now time.Time, om *packet.OpenMessage) (FSM, []Effect, bool) {
	err := om.Validate(f.cfg.LocalBGPID, f.cfg.LocalASN, f.cfg.PeerASN)
	if err == nil {
		return f, nil, false
	}
	n, ok := err.(*packet.Notification)
	if !ok {
		n = packet.NewNotification(packet.NotifCodeOpenMessageErr, 0, nil)
	}
	f = f.reset()
	if !isUnsupportedVersion(n) {
		f.connectRetryCounter++
	}
	return f, []Effect{sendEffect(n), disconnectEffect}, true
}

func negotiatedCapsFromOpen(om *packet.OpenMessage) packet.NegotiatedCapabilities {
	var caps packet.NegotiatedCapabilities
	_, caps.FourOctetASN = om.FourOctetASN()
	caps.ExtendedMessage = om.HasCapability(packet.CapExtendedMessage)
	return caps
}

func isUnsupportedVersion(n *packet.Notification) bool {
	return n.Code == packet.NotifCodeOpenMessageErr && n.Subcode == packet.NotifSubcodeUnsupportedVersionNum
}

// openSentEvent implements the OpenSent state's transitions.
func (f FSM) openSentEvent(ev Event) (FSM, []Effect) {
	switch ev.Kind {
	case EventTimerExpired:
		if ev.TimerName == TimerHoldTime && f.holdTimer.Running() {
			f = f.reset()
			f.connectRetryCounter++
			return f, []Effect{sendEffect(holdTimerExpiredNotification()), disconnectEffect}
		}
	case EventTCPConnectionFails:
		f.state = Active
		f.connectRetryTimer = f.connectRetryTimer.Restart(ev.Now)
		return f, nil
	case EventCollisionDump:
		f = f.reset()
		return f, []Effect{sendEffect(ceaseNotification()), disconnectEffect}
	case EventStop:
		return f.manualStop(ev, true)
	case EventRecv:
		switch m := ev.Message.(type) {
		case *packet.OpenMessage:
			if nf, eff, bad := f.rejectInvalidOpen(ev.Now, m); bad {
				return nf, eff
			}
			f.connectRetryTimer = f.connectRetryTimer.Stop()
			if m.HoldTime > 0 {
				local := f.cfg.HoldTimeSeconds
				peer := time.Duration(m.HoldTime) * time.Second
				negotiated := local
				if peer < negotiated {
					negotiated = peer
				}
				f.negotiatedHoldTime = negotiated
				f.holdTimer = f.holdTimer.WithSeconds(negotiated).Start(ev.Now)
				f.keepAliveTimer = f.keepAliveTimer.WithSeconds(negotiated / 3).Start(ev.Now)
			} else {
				f.negotiatedHoldTime = 0
				f.holdTimer = f.holdTimer.Stop()
				f.keepAliveTimer = f.keepAliveTimer.Stop()
			}
			f.internal = peerMatchesOpen(f.cfg.LocalASN, m)
			f.negotiatedCaps = negotiatedCapsFromOpen(m)
			f.state = OpenConfirm
			return f, []Effect{sendEffect(packet.KeepAliveMessage{})}
		case *packet.Notification:
			if isUnsupportedVersion(m) {
				f = f.reset()
				return f, nil
			}
		}
	}
	f = f.reset()
	f.connectRetryCounter++
	return f, []Effect{sendEffect(fsmErrorNotification(OpenSent)), disconnectEffect}
}

// openConfirmEvent implements the OpenConfirm state's transitions.
func (f FSM) openConfirmEvent(ev Event) (FSM, []Effect) {
	switch ev.Kind {
	case EventTimerExpired:
		if ev.TimerName == TimerHoldTime && f.holdTimer.Running() {
			f = f.reset()
			f.connectRetryCounter++
			return f, []Effect{sendEffect(holdTimerExpiredNotification()), disconnectEffect}
		}
		if ev.TimerName == TimerKeepAlive && f.keepAliveTimer.Running() {
			f.keepAliveTimer = f.keepAliveTimer.Restart(ev.Now)
			return f, []Effect{sendEffect(packet.KeepAliveMessage{})}
		}
	case EventRecv:
		switch ev.Message.(type) {
		case packet.KeepAliveMessage:
			f.holdTimer = f.holdTimer.Restart(ev.Now)
			f.state = Established
			return f, nil
		case *packet.Notification:
			f = f.reset()
			return f, []Effect{disconnectEffect}
		case *packet.OpenMessage:
			f = f.reset()
			return f, []Effect{sendEffect(ceaseNotification()), disconnectEffect}
		}
	case EventCollisionDump:
		f = f.reset()
		return f, []Effect{sendEffect(ceaseNotification()), disconnectEffect}
	case EventStop:
		return f.manualStop(ev, true)
	}
	f = f.reset()
	f.connectRetryCounter++
	return f, []Effect{sendEffect(fsmErrorNotification(OpenConfirm)), disconnectEffect}
}

// establishedEvent implements the Established state's transitions.
func (f FSM) establishedEvent(ev Event) (FSM, []Effect) {
	switch ev.Kind {
	case EventTimerExpired:
		if ev.TimerName == TimerHoldTime && f.holdTimer.Running() {
			f = f.reset()
			f.connectRetryCounter++
			return f, []Effect{sendEffect(holdTimerExpiredNotification()), disconnectEffect}
		}
		if ev.TimerName == TimerKeepAlive && f.negotiatedHoldTime > 0 {
			f.keepAliveTimer = f.keepAliveTimer.Restart(ev.Now)
			return f, []Effect{sendEffect(packet.KeepAliveMessage{})}
		}
	case EventRecv:
		switch m := ev.Message.(type) {
		case packet.KeepAliveMessage:
			f.holdTimer = f.holdTimer.Restart(ev.Now)
			return f, nil
		case *packet.UpdateMessage:
			f.holdTimer = f.holdTimer.Restart(ev.Now)
			return f, []Effect{deliverUpdateEffect(m)}
		case *packet.Notification:
			f = f.reset()
			return f, []Effect{disconnectEffect}
		case *packet.OpenMessage:
			f = f.reset()
			f.connectRetryCounter++
			return f, []Effect{sendEffect(ceaseNotification()), disconnectEffect}
		}
	case EventStop:
		return f.manualStop(ev, true)
	}
	f = f.reset()
	f.connectRetryCounter++
	return f, []Effect{sendEffect(fsmErrorNotification(Established)), disconnectEffect}
}
