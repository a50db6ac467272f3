package bgpd

import (
	"net/netip"
	"testing"
	"time"

	"github.com/polaris-bgp/bgpd/config"
	"github.com/polaris-bgp/bgpd/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeerConfig(host string) config.PeerConfig {
	return config.PeerConfig{
		ASN:                 65001,
		BGPID:               netip.MustParseAddr(host),
		Host:                netip.MustParseAddr(host),
		Port:                179,
		Mode:                config.ModeActive,
		Automatic:           false,
		ConnectRetrySeconds: 120 * time.Second,
		HoldTimeSeconds:     90 * time.Second,
		KeepAliveSeconds:    30 * time.Second,
	}
}

func TestServerRejectsInvalidBGPID(t *testing.T) {
	_, err := NewServer(65000, netip.MustParseAddr("::1"), 179, nil)
	assert.Error(t, err)
}

func TestServerAddGetListDeletePeer(t *testing.T) {
	s, err := NewServer(65000, netip.MustParseAddr("172.16.1.3"), 179, nil)
	require.NoError(t, err)

	pc := testPeerConfig("192.0.2.1")
	require.NoError(t, s.AddPeer(pc))
	assert.ErrorIs(t, s.AddPeer(pc), ErrPeerAlreadyExists)

	got, err := s.GetPeer(pc.Host)
	require.NoError(t, err)
	assert.Equal(t, pc.ASN, got.ASN)

	assert.Len(t, s.ListPeers(), 1)

	state, err := s.PeerState(pc.Host)
	require.NoError(t, err)
	assert.Equal(t, fsm.Idle, state)

	require.NoError(t, s.DeletePeer(pc.Host))
	assert.ErrorIs(t, s.DeletePeer(pc.Host), ErrPeerNotExist)
}

func TestServerCloseWithoutServeIsNoop(t *testing.T) {
	s, err := NewServer(65000, netip.MustParseAddr("172.16.1.3"), 179, nil)
	require.NoError(t, err)
	s.Close()
}
