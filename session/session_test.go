package session

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/polaris-bgp/bgpd/fsm"
	"github.com/polaris-bgp/bgpd/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDrainedPipe returns one end of an in-memory net.Conn pair, with the
// other end continuously read and discarded in the background so writeMessage
// (e.g. the KeepAlive sent on entering OpenConfirm) never blocks on a test
// that isn't acting as a real peer.
func newDrainedPipe(t *testing.T) net.Conn {
	t.Helper()
	local, remote := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local
}

func testFSMConfig() fsm.Config {
	return fsm.Config{
		LocalASN:            65000,
		LocalBGPID:          0xAC100103,
		PeerASN:             65001,
		PeerBGPID:           0xAC100104,
		Mode:                fsm.ModeActive,
		ConnectRetrySeconds: 120 * time.Second,
		HoldTimeSeconds:     90 * time.Second,
		KeepAliveSeconds:    30 * time.Second,
	}
}

func TestRegistryRejectsDuplicateHost(t *testing.T) {
	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.1")

	s, err := New(testFSMConfig(), host, 179, false, r, nil, nil, 0, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = New(testFSMConfig(), host, 179, false, r, nil, nil, 0, 0, nil)
	assert.Error(t, err)
}

func TestRegistryLookupAndUnregister(t *testing.T) {
	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.2")

	s, err := New(testFSMConfig(), host, 179, false, r, nil, nil, 0, 0, nil)
	require.NoError(t, err)

	got, ok := r.Lookup(host)
	assert.True(t, ok)
	assert.Same(t, s, got)

	r.Unregister(host)
	_, ok = r.Lookup(host)
	assert.False(t, ok)
}

// advanceToOpenConfirm drives s's FSM, unexported-field access and all since
// this test lives in package session, from Idle to OpenConfirm over conn:
// Start, TCPConnectionSucceeds (-> OpenSent, sends our OPEN), then the peer's
// OPEN arrives (-> OpenConfirm, sends our KeepAlive). Mirrors the real
// sequence adoptConnection/readLoop would drive, without a goroutine.
func advanceToOpenConfirm(t *testing.T, s *Session, conn net.Conn) {
	t.Helper()
	s.mu.Lock()
	s.conn = conn
	s.epoch++
	s.mu.Unlock()

	s.apply(fsm.StartEvent(time.Now(), fsm.CauseAutomatic, fsm.ModeActive))
	require.Equal(t, fsm.Connect, s.State())

	s.apply(fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionSucceeds))
	require.Equal(t, fsm.OpenSent, s.State())

	peerOpen := packet.NewOpenMessage(s.cfg.PeerASN, s.cfg.HoldTimeSeconds, s.cfg.PeerBGPID, nil)
	s.apply(fsm.RecvEvent(time.Now(), peerOpen))
	require.Equal(t, fsm.OpenConfirm, s.State())
}

// TestAdoptConnectionArbitratesDialSuccessAgainstLiveConn reproduces the race
// a maintainer flagged: an inbound connection is accepted and carries the FSM
// past OpenConfirm while an outbound dial that raced it is still in flight.
// When that stale dial result lands, it must go through the same collision
// arbitration acceptInbound uses rather than blindly overwriting s.conn and
// injecting a second TCPConnectionSucceeds.
func TestAdoptConnectionArbitratesDialSuccessAgainstLiveConn(t *testing.T) {
	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.3")
	cfg := testFSMConfig()
	// Local BGP-ID > peer BGP-ID: Arbitrate must have the newly-arriving
	// (dialed) connection lose, per collision.Arbitrate's contract.
	cfg.LocalBGPID = 0xAC100105
	cfg.PeerBGPID = 0xAC100104

	s, err := New(cfg, host, 179, false, r, nil, nil, 0, 0, nil)
	require.NoError(t, err)

	acceptedConn := newDrainedPipe(t)
	advanceToOpenConfirm(t, s, acceptedConn)

	epochBefore := s.epoch
	dialedConn := newDrainedPipe(t)

	s.adoptConnection(dialedConn, fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionSucceeds))

	// The stale dialed connection lost arbitration: s.conn/epoch must be
	// untouched, and no EventTCPConnectionSucceeds may have reached an FSM
	// already past Connect (which would tear the session down).
	s.mu.Lock()
	assert.Same(t, acceptedConn, s.conn)
	assert.Equal(t, epochBefore, s.epoch)
	s.mu.Unlock()
	assert.Equal(t, fsm.OpenConfirm, s.State())

	// dialedConn must have been closed, not adopted: a further write on it
	// returns an error instead of succeeding.
	_, writeErr := dialedConn.Write([]byte{0})
	assert.Error(t, writeErr)
}

// TestAdoptConnectionDumpsLosingIncumbent covers the converse collision
// outcome: the newly-arriving connection wins, so the incumbent is dumped via
// a collision-dump event and its connection closed before the new one is
// adopted.
func TestAdoptConnectionDumpsLosingIncumbent(t *testing.T) {
	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.4")
	cfg := testFSMConfig()
	// Local BGP-ID < peer BGP-ID: Arbitrate must have the incumbent dumped
	// and the newly-arriving connection adopted.
	cfg.LocalBGPID = 0xAC100104
	cfg.PeerBGPID = 0xAC100105

	s, err := New(cfg, host, 179, false, r, nil, nil, 0, 0, nil)
	require.NoError(t, err)

	incumbentConn := newDrainedPipe(t)
	advanceToOpenConfirm(t, s, incumbentConn)

	winningConn := newDrainedPipe(t)
	s.adoptConnection(winningConn, fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionConfirmed))

	s.mu.Lock()
	assert.Same(t, winningConn, s.conn)
	s.mu.Unlock()

	// The collision-dump event reset the FSM to Idle; adoptConnection must
	// re-arm it with a fresh Start before applying the winning connection's
	// EventTCPConnectionConfirmed, carrying the session on to OpenSent
	// rather than stranding it in Idle.
	assert.Equal(t, fsm.OpenSent, s.State())

	_, writeErr := incumbentConn.Write([]byte{0})
	assert.Error(t, writeErr)
}

// TestAcceptInboundNoLiveConnSkipsArbitration covers the no-collision path:
// acceptInbound adopts an inbound connection directly when no connection is
// already live.
func TestAcceptInboundNoLiveConnSkipsArbitration(t *testing.T) {
	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.5")
	s, err := New(testFSMConfig(), host, 179, false, r, nil, nil, 0, 0, nil)
	require.NoError(t, err)

	s.apply(fsm.StartEvent(time.Now(), fsm.CauseAutomatic, fsm.ModePassive))
	require.Equal(t, fsm.Active, s.State())

	conn := newDrainedPipe(t)
	s.acceptInbound(conn)

	s.mu.Lock()
	assert.Same(t, conn, s.conn)
	s.mu.Unlock()
	assert.Equal(t, fsm.OpenSent, s.State())
}

// TestSessionLogsTransitionsEffectsAndCollisions exercises the logging seam
// a maintainer asked for: FSM transitions, effect execution, and collision
// decisions must all reach an installed logger.
func TestSessionLogsTransitionsEffectsAndCollisions(t *testing.T) {
	var lines []string
	logger := func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	}

	r := NewRegistry()
	host := netip.MustParseAddr("192.0.2.6")
	cfg := testFSMConfig()
	cfg.LocalBGPID = 0xAC100105
	cfg.PeerBGPID = 0xAC100104

	s, err := New(cfg, host, 179, false, r, nil, nil, 0, 0, logger)
	require.NoError(t, err)

	conn := newDrainedPipe(t)
	advanceToOpenConfirm(t, s, conn)

	losingConn := newDrainedPipe(t)
	s.adoptConnection(losingConn, fsm.TCPConnectionEvent(time.Now(), fsm.EventTCPConnectionSucceeds))

	var sawTransition, sawEffect, sawCollision bool
	for _, l := range lines {
		if strings.Contains(l, "FSM transition") {
			sawTransition = true
		}
		if strings.Contains(l, "executing effect") {
			sawEffect = true
		}
		if strings.Contains(l, "collision arbitration") {
			sawCollision = true
		}
	}
	assert.True(t, sawTransition, "expected a transition log line, got %v", lines)
	assert.True(t, sawEffect, "expected an effect log line, got %v", lines)
	assert.True(t, sawCollision, "expected a collision log line, got %v", lines)
}
