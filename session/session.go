// Package session implements the per-peer driver: one goroutine per
// configured peer that owns a TCP client socket, pumps a pure fsm.FSM, and
// translates its effects into dials, writes, disconnects, and armed timers.
// It also accepts inbound connections handed to it by a Server's accept
// loop, arbitrating collisions against its own outbound attempt. Ported
// from jwhited/corebgp's fsm.go dial/read-loop machinery, rewired to drive
// fsm.Event instead of fsm.go's own actor-embedded state methods.
package session

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/polaris-bgp/bgpd/collision"
	"github.com/polaris-bgp/bgpd/fsm"
	"github.com/polaris-bgp/bgpd/packet"
	"github.com/polaris-bgp/bgpd/rde"
)

// Registry is a peer_host -> Session map, one per Server, consulted by that
// Server's accept loop to route an inbound connection to the right peer's
// Session.
type Registry struct {
	mu       sync.Mutex
	sessions map[netip.Addr]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[netip.Addr]*Session)}
}

// Register adds s under peerHost. It returns an error if a Session is
// already registered for that host, enforcing a unique-key registry
// invariant.
func (r *Registry) Register(peerHost netip.Addr, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[peerHost]; exists {
		return fmt.Errorf("session: a session is already registered for %s", peerHost)
	}
	r.sessions[peerHost] = s
	return nil
}

// Unregister removes any Session registered for peerHost.
func (r *Registry) Unregister(peerHost netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peerHost)
}

// Lookup returns the Session registered for peerHost, if any.
func (r *Registry) Lookup(peerHost netip.Addr) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peerHost]
	return s, ok
}

// Session is one peer's outbound driver.
type Session struct {
	cfg       fsm.Config
	peerHost  netip.Addr
	peerPort  uint16
	automatic bool
	dialer    net.Dialer
	proc      rde.Processor
	registry  *Registry

	// networks, asOriginationInterval, and routeAdvertisementInterval drive
	// periodic route origination once Established, per the as_origination
	// and route_advertisement peer-config timers: these are BGP-speaker
	// pacing timers, not RFC 4271 session timers, so they live here rather
	// than as a fifth/sixth fsm.Timer.
	networks                   []netip.Prefix
	asOriginationInterval      time.Duration
	routeAdvertisementInterval time.Duration

	mu    sync.Mutex
	f     fsm.FSM
	conn  net.Conn
	epoch int

	eventCh   chan fsm.Event
	inboundCh chan net.Conn
	closeCh   chan struct{}
	doneCh    chan struct{}

	retryBackoff *backoff.Backoff

	// logger is the Logf-compatible seam transitions, effects, and collision
	// decisions are reported through. session cannot import the root bgpd
	// package (it imports session), so bgpd.Server.AddPeer wires its own
	// Logf in here instead of session calling it directly.
	logger func(format string, v ...interface{})
}

func (s *Session) logf(format string, v ...interface{}) {
	if s.logger != nil {
		s.logger(format, v...)
	}
}

// New returns a Session for cfg/peerHost:peerPort, registering itself in
// registry under peerHost. networks are the server's configured origination
// prefixes, announced to this peer once Established; asOriginationInterval
// and routeAdvertisementInterval pace those (re-)announcements. logger, if
// non-nil, receives FSM transition, effect-execution, and collision-decision
// reports (Logf-compatible; pass nil to disable).
func New(cfg fsm.Config, peerHost netip.Addr, peerPort uint16, automatic bool,
	registry *Registry, proc rde.Processor, networks []netip.Prefix,
	asOriginationInterval, routeAdvertisementInterval time.Duration,
	logger func(format string, v ...interface{})) (*Session, error) {
	s := &Session{
		cfg:                        cfg,
		peerHost:                   peerHost,
		peerPort:                   peerPort,
		automatic:                  automatic,
		proc:                       proc,
		registry:                   registry,
		networks:                   networks,
		asOriginationInterval:      asOriginationInterval,
		routeAdvertisementInterval: routeAdvertisementInterval,
		logger:                     logger,
		f:                          fsm.New(cfg),
		eventCh:                    make(chan fsm.Event, 16),
		inboundCh:                  make(chan net.Conn, 1),
		closeCh:                    make(chan struct{}),
		doneCh:                     make(chan struct{}),
		retryBackoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    2 * time.Minute,
			Factor: 2,
			Jitter: true,
		},
	}
	if err := registry.Register(peerHost, s); err != nil {
		return nil, err
	}
	return s, nil
}

// State returns the Session's current FSM state, for collision arbitration.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.State()
}

// LocalBGPID returns the local router's BGP-ID this Session advertises.
func (s *Session) LocalBGPID() uint32 { return s.cfg.LocalBGPID }

// IncomingConnection hands a freshly-accepted inbound TCP connection for this
// Session's peer to its event loop. A Server routes an accepted net.Conn
// here by remote host rather than handing it to a separate Listener actor,
// since a single registry of per-peer actors handling both the outbound
// dial and inbound accept sides avoids running two divergent state machines
// for the same peer. If another connection is already live, the two sides
// are arbitrated before either is accepted. A connection that loses
// arbitration, or that arrives while one is already pending acceptance, is
// closed immediately.
func (s *Session) IncomingConnection(conn net.Conn) {
	select {
	case s.inboundCh <- conn:
	case <-s.doneCh:
		conn.Close()
	default:
		conn.Close()
	}
}

// deliver feeds ev to the Session's event loop without blocking the caller
// indefinitely; Run must be draining eventCh.
func (s *Session) deliver(ev fsm.Event) {
	select {
	case s.eventCh <- ev:
	case <-s.doneCh:
	}
}

// Close stops the Session's event loop, tearing down any live connection.
func (s *Session) Close() {
	close(s.closeCh)
	<-s.doneCh
}

// Run drives the Session's FSM until ctx is done or Close is called. If
// automatic, a {start, automatic, mode} event is delivered first.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.doneCh)
	defer s.registry.Unregister(s.peerHost)
	defer s.closeConn()

	if s.automatic {
		s.apply(fsm.StartEvent(time.Now(), fsm.CauseAutomatic, s.cfg.Mode))
	}

	var connectRetryC, delayOpenC, holdC, keepAliveC <-chan time.Time
	var dialResultCh chan dialResult

	asOriginationC := tickerChan(s.asOriginationInterval)
	routeAdvertisementC := tickerChan(s.routeAdvertisementInterval)

	for {
		s.mu.Lock()
		cur := s.f
		s.mu.Unlock()
		connectRetryC = timerChan(cur.ConnectRetryTimer())
		delayOpenC = timerChan(cur.DelayOpenTimer())
		holdC = timerChan(cur.HoldTimer())
		keepAliveC = timerChan(cur.KeepAliveTimer())

		select {
		case <-ctx.Done():
			s.apply(fsm.StopEvent(time.Now(), fsm.CauseAutomatic))
			return ctx.Err()
		case <-s.closeCh:
			s.apply(fsm.StopEvent(time.Now(), fsm.CauseManual))
			return nil
		case ev := <-s.eventCh:
			s.apply(ev)
		case <-connectRetryC:
			s.apply(fsm.TimerExpiredEvent(time.Now(), fsm.TimerConnectRetry))
		case <-delayOpenC:
			s.apply(fsm.TimerExpiredEvent(time.Now(), fsm.TimerDelayOpen))
		case <-holdC:
			s.apply(fsm.TimerExpiredEvent(time.Now(), fsm.TimerHoldTime))
		case <-keepAliveC:
			s.apply(fsm.TimerExpiredEvent(time.Now(), fsm.TimerKeepAlive))
		case res := <-dialResultCh:
			dialResultCh = nil
			if res.err != nil {
				s.apply(fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionFails))
				continue
			}
			s.adoptConnection(res.conn, fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionSucceeds))
		case conn := <-s.inboundCh:
			s.acceptInbound(conn)
		case <-asOriginationC:
			s.originate()
		case <-routeAdvertisementC:
			s.originate()
		}

		if dialResultCh == nil && s.wantsDial() {
			dialResultCh = s.startDial(ctx)
		}
	}
}

// acceptInbound runs collision arbitration, if needed, against an inbound
// connection and either adopts it as the live connection or closes it.
// Called only from the Run loop goroutine, so it may touch s.conn/s.f
// directly under the lock without racing the dial path.
func (s *Session) acceptInbound(conn net.Conn) {
	s.adoptConnection(conn, fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionConfirmed))
}

// adoptConnection arbitrates conn against any already-live connection
// before making conn the Session's live connection and applying
// succeed. Both the accept path (acceptInbound) and the dial-success path in
// Run must adopt a new connection through this single chokepoint: the two
// can race (an inbound connection may be accepted and carried past
// OpenConfirm while an outbound dial that was already in flight completes),
// and only one connection may ever back the FSM at a time.
func (s *Session) adoptConnection(conn net.Conn, succeed fsm.Event) {
	s.mu.Lock()
	state := s.f.State()
	haveConn := s.conn != nil
	s.mu.Unlock()

	if haveConn {
		result := collision.Arbitrate(state, s.cfg.LocalBGPID, s.cfg.PeerBGPID)
		s.logf("[%s] collision arbitration in state %s: %s", s.peerHost, state, result)
		switch result {
		case collision.Collision:
			conn.Close()
			return
		case collision.Close:
			s.apply(fsm.CollisionDumpEvent(time.Now()))
			s.closeConn()
			// The dump above reset the incumbent to Idle, which ignores a
			// connection event. Re-arm it with a fresh Start so succeed
			// below lands on Connect/Active and carries conn to OpenSent,
			// rather than being silently dropped by an Idle FSM.
			s.mu.Lock()
			s.f = fsm.New(s.cfg)
			s.mu.Unlock()
			s.apply(fsm.StartEvent(time.Now(), fsm.CauseAutomatic, s.cfg.Mode))
		default:
			s.closeConn()
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	s.retryBackoff.Reset()
	go s.readLoop(conn, epoch)
	s.apply(succeed)
}

// wantsDial reports whether the FSM is in a state expecting the Session to
// be dialing, i.e. it has no live connection yet, is in Connect, and is
// configured for active mode.
func (s *Session) wantsDial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return false
	}
	return s.f.State() == fsm.Connect && s.cfg.Mode == fsm.ModeActive
}

type dialResult struct {
	conn net.Conn
	err  error
}

// startDial launches an asynchronous dial to the peer. A dial made while the
// FSM's connect-retry counter is non-zero is first delayed by s.retryBackoff,
// independent of the FSM's own fixed-interval connect_retry timer; a dial
// made with the counter at zero starts at once and resets the backoff.
func (s *Session) startDial(ctx context.Context) chan dialResult {
	ch := make(chan dialResult, 1)
	addr := net.JoinHostPort(s.peerHost.String(), fmt.Sprint(s.peerPort))

	s.mu.Lock()
	attempt := s.f.ConnectRetryCounter()
	s.mu.Unlock()

	var delay time.Duration
	if attempt > 0 {
		delay = s.retryBackoff.Duration()
	} else {
		s.retryBackoff.Reset()
	}

	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				ch <- dialResult{err: ctx.Err()}
				return
			}
		}
		conn, err := s.dialer.DialContext(ctx, "tcp", addr)
		ch <- dialResult{conn: conn, err: err}
	}()
	return ch
}

// apply runs ev through the FSM under lock and executes the resulting
// effects in order, preserving the ordering guarantee that effects from one
// transition apply before the next event is processed, logging the
// transition the way jwhited/corebgp's peer.logTransition does.
func (s *Session) apply(ev fsm.Event) {
	s.mu.Lock()
	from := s.f.State()
	next, effects := s.f.Event(ev)
	s.f = next
	to := s.f.State()
	s.mu.Unlock()
	if from != to {
		s.logf("[%s] FSM transition %s => %s", s.peerHost, from, to)
	}
	for _, eff := range effects {
		s.runEffect(eff)
	}
}

func (s *Session) runEffect(eff fsm.Effect) {
	s.logf("[%s] executing effect %s", s.peerHost, eff.Kind)
	switch eff.Kind {
	case fsm.EffectSend:
		s.writeMessage(eff.Message)
	case fsm.EffectTCPConnect:
		// handled by wantsDial/startDial in the Run loop
	case fsm.EffectTCPReconnect:
		s.closeConn()
	case fsm.EffectTCPDisconnect:
		s.closeConn()
	case fsm.EffectDeliverUpdate:
		if u, ok := eff.Message.(*packet.UpdateMessage); ok && s.proc != nil {
			s.proc.ProcessUpdate(s.cfg.PeerBGPID, u)
		}
	}
}

func (s *Session) writeMessage(m packet.Message) {
	s.mu.Lock()
	conn := s.conn
	caps := s.f.NegotiatedCapabilities()
	s.mu.Unlock()
	if conn == nil {
		return
	}
	b, err := packet.Encode(m, caps)
	if err != nil {
		return
	}
	_, _ = conn.Write(b)
}

func (s *Session) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.epoch++
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// currentEpoch reports whether epoch still names the live connection, so a
// reader goroutine left over from a superseded connection (reconnect, lost
// collision, manual stop) stops delivering events instead of racing a newer
// connection's reader.
func (s *Session) currentEpoch(epoch int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

// readLoop reads length-prefixed messages off conn and delivers them as
// fsm.RecvEvents.
func (s *Session) readLoop(conn net.Conn, epoch int) {
	buf := make([]byte, 0, packet.MaxExtendedMessageLength)
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if !s.currentEpoch(epoch) {
			return
		}
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			s.mu.Lock()
			caps := s.f.NegotiatedCapabilities()
			s.mu.Unlock()
			msgs, remainder, serr := packet.Stream(buf, caps)
			buf = remainder
			for _, m := range msgs {
				s.deliver(fsm.RecvEvent(time.Now(), m))
			}
			if serr != nil {
				if notif, ok := serr.(*packet.Notification); ok {
					s.deliver(fsm.RecvEvent(time.Now(), notif))
				}
				return
			}
		}
		if err != nil {
			s.deliver(fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionFails))
			return
		}
	}
}

// tickerChan returns a channel that fires every d, or nil if d <= 0, so a
// select on it simply never fires (the peer-config default for as_origination
// and route_advertisement is positive, but an operator may disable either).
func tickerChan(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	return time.NewTicker(d).C
}

// originate announces s.networks to the peer, once Established, as the
// as_origination/route_advertisement timers fire. This is route origination,
// not protocol-level FSM behavior, so it writes directly to the connection
// rather than passing through fsm.Event.
func (s *Session) originate() {
	s.mu.Lock()
	state := s.f.State()
	conn := s.conn
	internal := s.f.Internal()
	s.mu.Unlock()
	if state != fsm.Established || conn == nil || len(s.networks) == 0 {
		return
	}

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return
	}
	nextHop, err := netip.ParseAddr(host)
	if err != nil {
		return
	}

	origin := packet.OriginIGP
	var asPath []packet.ASPathSegment
	if !internal {
		asPath = []packet.ASPathSegment{{Type: packet.ASPathSegmentSequence, ASNs: []uint32{s.cfg.LocalASN}}}
	}
	s.writeMessage(&packet.UpdateMessage{
		Attrs: packet.PathAttributes{
			Origin:  &origin,
			ASPath:  asPath,
			NextHop: nextHop,
		},
		NLRI: s.networks,
	})
}

func timerChan(t interface{ Deadline() (time.Time, bool) }) <-chan time.Time {
	deadline, running := t.Deadline()
	if !running {
		return nil
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return time.After(d)
}
