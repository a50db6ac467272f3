package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
asn: 65000
bgp_id: 172.16.1.3
port: 179
networks:
  - 10.0.0.0/24
peers:
  - asn: 65001
    bgp_id: 172.16.1.4
    host: 172.16.1.4
    mode: active
  - asn: 65002
    bgp_id: 172.16.1.5
    host: 172.16.1.5
    mode: passive
    hold_time_seconds: 30
    automatic: false
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bgpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(65000), cfg.ASN)
	assert.Equal(t, "172.16.1.3", cfg.BGPID.String())
	require.Len(t, cfg.Peers, 2)

	p0 := cfg.Peers[0]
	assert.Equal(t, ModeActive, p0.Mode)
	assert.True(t, p0.Automatic)
	assert.Equal(t, 120*time.Second, p0.ConnectRetrySeconds)
	assert.Equal(t, 90*time.Second, p0.HoldTimeSeconds)
	assert.Equal(t, 30*time.Second, p0.KeepAliveSeconds)
	assert.True(t, p0.DelayOpen.Enabled)
	assert.Equal(t, 5*time.Second, p0.DelayOpen.Seconds)
	assert.True(t, p0.NotificationWithoutOpen)

	p1 := cfg.Peers[1]
	assert.Equal(t, ModePassive, p1.Mode)
	assert.False(t, p1.Automatic)
	assert.Equal(t, 30*time.Second, p1.HoldTimeSeconds)
}

func TestLoadWithNoPeersKey(t *testing.T) {
	path := writeTempConfig(t, `
asn: 65000
bgp_id: 172.16.1.3
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Peers)
}

func TestLoadRejectsMissingBGPID(t *testing.T) {
	path := writeTempConfig(t, `
asn: 65000
peers: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadPeerMode(t *testing.T) {
	path := writeTempConfig(t, `
asn: 65000
bgp_id: 172.16.1.3
peers:
  - asn: 65001
    bgp_id: 172.16.1.4
    host: 172.16.1.4
    mode: promiscuous
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicatePeerHosts(t *testing.T) {
	path := writeTempConfig(t, `
asn: 65000
bgp_id: 172.16.1.3
peers:
  - asn: 65001
    bgp_id: 172.16.1.4
    host: 172.16.1.4
    mode: active
  - asn: 65002
    bgp_id: 172.16.1.4
    host: 172.16.1.4
    mode: active
`)
	_, err := Load(path)
	require.Error(t, err)
}
