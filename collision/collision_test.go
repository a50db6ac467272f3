package collision

import (
	"testing"

	"github.com/polaris-bgp/bgpd/fsm"
	"github.com/stretchr/testify/assert"
)

const (
	localID = 0xAC100103 // 172.16.1.3
	peerID  = 0xAC100104 // 172.16.1.4
)

// scenario 3: collision, local wins.
func TestScenarioCollisionLocalWins(t *testing.T) {
	higher := uint32(0xAC100105) // 172.16.1.5 > peerID
	got := Arbitrate(fsm.OpenSent, higher, peerID)
	assert.Equal(t, Collision, got)
}

// scenario 4: collision, local loses.
func TestScenarioCollisionLocalLoses(t *testing.T) {
	lower := uint32(0xAC100101) // 172.16.1.1 < peerID
	got := Arbitrate(fsm.OpenSent, lower, peerID)
	assert.Equal(t, Close, got)
}

func TestEstablishedAlwaysRejectsNewConnection(t *testing.T) {
	assert.Equal(t, Collision, Arbitrate(fsm.Established, localID, peerID))
	assert.Equal(t, Collision, Arbitrate(fsm.Established, peerID, localID))
}

func TestNonCollidingStatesAreOK(t *testing.T) {
	for _, s := range []fsm.State{fsm.Idle, fsm.Connect, fsm.Active} {
		assert.Equal(t, OK, Arbitrate(s, localID, peerID), "state %s", s)
	}
}

// Antisymmetric by construction: for any pair of distinct IDs in an
// open_sent/open_confirm collision, exactly one direction wins.
func TestCollisionAntisymmetric(t *testing.T) {
	pairs := [][2]uint32{
		{0x01020304, 0x01020305},
		{0xFFFFFFFF, 0x00000001},
		{0x0A000001, 0x0A000002},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		resAB := Arbitrate(fsm.OpenConfirm, a, b)
		resBA := Arbitrate(fsm.OpenConfirm, b, a)
		assert.NotEqual(t, resAB, resBA, "a=%x b=%x", a, b)
	}
}
