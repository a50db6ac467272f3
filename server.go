package bgpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/polaris-bgp/bgpd/config"
	"github.com/polaris-bgp/bgpd/fsm"
	"github.com/polaris-bgp/bgpd/packet"
	"github.com/polaris-bgp/bgpd/rde"
	"github.com/polaris-bgp/bgpd/session"
)

// Server manages the full set of peers configured for one local BGP speaker,
// grounded on jwhited/corebgp's Server type: a registry of per-peer actors
// plus an accept loop that routes inbound connections to the right one.
type Server struct {
	mu         sync.Mutex
	localASN   uint32
	localBGPID uint32
	port       uint16
	networks   []netip.Prefix
	proc       rde.Processor

	registry *session.Registry
	peers    map[netip.Addr]*peerHandle

	serving       bool
	ctx           context.Context
	cancel        context.CancelFunc
	doneServingCh chan struct{}
	closeCh       chan struct{}
	closeOnce     sync.Once
}

type peerHandle struct {
	cfg config.PeerConfig
	s   *session.Session
}

var (
	ErrServerClosed      = errors.New("bgpd: server closed")
	ErrPeerNotExist      = errors.New("bgpd: peer does not exist")
	ErrPeerAlreadyExists = errors.New("bgpd: peer already exists")
)

// NewServer returns a Server for the local router identified by asn/bgpID,
// listening on port, originating networks to peers once Established, and
// delivering decoded UPDATEs to proc.
func NewServer(asn uint32, bgpID netip.Addr, port uint16, proc rde.Processor, networks ...netip.Prefix) (*Server, error) {
	if !bgpID.Is4() {
		return nil, errors.New("bgpd: invalid router id")
	}
	return &Server{
		localASN:      asn,
		localBGPID:    bgpIDUint32(bgpID),
		port:          port,
		networks:      networks,
		proc:          proc,
		registry:      session.NewRegistry(),
		peers:         make(map[netip.Addr]*peerHandle),
		doneServingCh: make(chan struct{}),
		closeCh:       make(chan struct{}),
	}, nil
}

func bgpIDUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// AddPeer registers a new peer. If the Server is already serving, the peer's
// Session is started immediately.
func (s *Server) AddPeer(pc config.PeerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.peers[pc.Host]; exists {
		return ErrPeerAlreadyExists
	}

	cfg := fsm.Config{
		LocalASN:                s.localASN,
		LocalBGPID:              s.localBGPID,
		PeerASN:                 pc.ASN,
		PeerBGPID:               bgpIDUint32(pc.BGPID),
		Mode:                    peerMode(pc.Mode),
		ConnectRetrySeconds:     pc.ConnectRetrySeconds,
		HoldTimeSeconds:         pc.HoldTimeSeconds,
		KeepAliveSeconds:        pc.KeepAliveSeconds,
		DelayOpen:               fsm.DelayOpenConfig{Enabled: pc.DelayOpen.Enabled, Seconds: pc.DelayOpen.Seconds},
		NotificationWithoutOpen: pc.NotificationWithoutOpen,
		Capabilities:            peerCapabilities(s.localASN),
	}

	sess, err := session.New(cfg, pc.Host, pc.Port, pc.Automatic, s.registry, s.proc,
		s.networks, pc.ASOriginationSeconds, pc.RouteAdvertisementSeconds, Logf)
	if err != nil {
		return fmt.Errorf("bgpd: add peer %s: %w", pc.Host, err)
	}
	h := &peerHandle{cfg: pc, s: sess}
	s.peers[pc.Host] = h
	if s.serving {
		go sess.Run(s.ctx)
	}
	return nil
}

func peerMode(m config.Mode) fsm.Mode {
	if m == config.ModePassive {
		return fsm.ModePassive
	}
	return fsm.ModeActive
}

// peerCapabilities builds the capability set every outbound OPEN advertises:
// four-octet ASN support (RFC 6793) is always offered since asnWidth in the
// packet codec only trusts a capability actually present on the negotiated
// OPEN exchange.
func peerCapabilities(localASN uint32) []packet.Capability {
	return []packet.Capability{packet.NewFourOctetASCapability(localASN)}
}

// DeletePeer removes a peer, stopping its Session if the Server is serving.
func (s *Server) DeletePeer(host netip.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, exists := s.peers[host]
	if !exists {
		return ErrPeerNotExist
	}
	if s.serving {
		h.s.Close()
	}
	delete(s.peers, host)
	return nil
}

// GetPeer returns the configuration for the named peer.
func (s *Server) GetPeer(host netip.Addr) (config.PeerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, exists := s.peers[host]
	if !exists {
		return config.PeerConfig{}, ErrPeerNotExist
	}
	return h.cfg, nil
}

// ListPeers returns the configuration for every registered peer.
func (s *Server) ListPeers() []config.PeerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.PeerConfig, 0, len(s.peers))
	for _, h := range s.peers {
		out = append(out, h.cfg)
	}
	return out
}

// PeerState returns the current FSM state of the named peer, for status
// reporting.
func (s *Server) PeerState(host netip.Addr) (fsm.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, exists := s.peers[host]
	if !exists {
		return fsm.Idle, ErrPeerNotExist
	}
	return h.s.State(), nil
}

// Serve starts every registered peer's Session and, if lis is non-nil,
// accepts inbound connections on it and routes them by remote host. Serve
// blocks until Close is called or the listener errs.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.doneServingCh:
		s.mu.Unlock()
		return ErrServerClosed
	case <-s.closeCh:
		s.mu.Unlock()
		return ErrServerClosed
	default:
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.serving = true
	for _, h := range s.peers {
		go h.s.Run(s.ctx)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for _, h := range s.peers {
			h.s.Close()
		}
		s.serving = false
		s.cancel()
		close(s.doneServingCh)
		s.mu.Unlock()
	}()

	if lis == nil {
		<-s.closeCh
		return ErrServerClosed
	}

	lisErrCh := make(chan error, 1)
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				lisErrCh <- err
				return
			}
			s.handleInboundConn(conn)
		}
	}()

	select {
	case <-s.closeCh:
		lis.Close()
		return ErrServerClosed
	case err := <-lisErrCh:
		lis.Close()
		return fmt.Errorf("bgpd: listener error: %w", err)
	}
}

func (s *Server) handleInboundConn(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		conn.Close()
		return
	}
	sess, ok := s.registry.Lookup(addr)
	if !ok {
		Logf("bgpd: rejecting inbound connection from unconfigured peer %s", addr)
		conn.Close()
		return
	}
	sess.IncomingConnection(conn)
}

// Close stops the Server. A closed Server cannot be reused.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()
	if !serving {
		return
	}
	<-s.doneServingCh
}
