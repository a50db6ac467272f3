package packet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fourOctetCaps = NegotiatedCapabilities{FourOctetASN: true}
var twoOctetCaps = NegotiatedCapabilities{}

func TestOpenMessageRoundTrip(t *testing.T) {
	caps := []Capability{
		NewMultiProtocolCapability(AFIIPv4, SAFIUnicast),
		NewRouteRefreshCapability(),
	}
	o := NewOpenMessage(65001, 90*time.Second, 0x0A000001, caps)
	b, err := Encode(o, fourOctetCaps)
	require.NoError(t, err)

	m, err := Decode(b[HeaderLength:], MessageTypeOpen, fourOctetCaps)
	require.NoError(t, err)
	got, ok := m.(*OpenMessage)
	require.True(t, ok)

	assert.Equal(t, uint8(4), got.Version)
	assert.Equal(t, uint16(90), got.HoldTime)
	assert.Equal(t, uint32(0x0A000001), got.BGPID)
	asn, ok := got.FourOctetASN()
	assert.True(t, ok)
	assert.Equal(t, uint32(65001), asn)
	assert.True(t, got.HasCapability(CapMultiProtocol))
	assert.True(t, got.HasCapability(CapRouteRefresh))
}

func TestOpenMessageValidate(t *testing.T) {
	o := NewOpenMessage(65002, 90*time.Second, 0x0A000002, nil)
	err := o.Validate(0x0A000001, 65001, 65002)
	assert.NoError(t, err)

	// bad peer AS
	err = o.Validate(0x0A000001, 65001, 65003)
	require.Error(t, err)
	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifCodeOpenMessageErr, n.Code)
	assert.Equal(t, NotifSubcodeBadPeerAS, n.Subcode)

	// iBGP collision on identical router IDs, RFC 6286
	dup := NewOpenMessage(65001, 90*time.Second, 0x0A000001, nil)
	err = dup.Validate(0x0A000001, 65001, 65001)
	require.Error(t, err)
	n, ok = err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifSubcodeBadBGPID, n.Subcode)
}

func TestOpenMessageUnacceptableHoldTime(t *testing.T) {
	o := &OpenMessage{Version: 4, ASN: 65002, HoldTime: 1, BGPID: 0x0A000002}
	err := o.Validate(0x0A000001, 65001, 65002)
	require.Error(t, err)
	n := err.(*Notification)
	assert.Equal(t, NotifSubcodeUnacceptableHoldTime, n.Subcode)
}

func TestUpdateMessageRoundTrip(t *testing.T) {
	origin := OriginIGP
	u := &UpdateMessage{
		Withdrawn: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
		Attrs: PathAttributes{
			Origin: &origin,
			ASPath: []ASPathSegment{
				{Type: ASPathSegmentSequence, ASNs: []uint32{65001, 65002}},
			},
			NextHop:     netip.MustParseAddr("192.0.2.1"),
			Communities: []uint32{0xFFFF0000},
		},
		NLRI: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
	}
	b, err := u.encode(fourOctetCaps)
	require.NoError(t, err)

	m, err := Decode(b[HeaderLength:], MessageTypeUpdate, fourOctetCaps)
	require.NoError(t, err)
	got := m.(*UpdateMessage)

	require.Len(t, got.Withdrawn, 1)
	assert.Equal(t, "10.0.0.0/24", got.Withdrawn[0].String())
	require.NotNil(t, got.Attrs.Origin)
	assert.Equal(t, OriginIGP, *got.Attrs.Origin)
	require.Len(t, got.Attrs.ASPath, 1)
	assert.Equal(t, []uint32{65001, 65002}, got.Attrs.ASPath[0].ASNs)
	assert.Equal(t, "192.0.2.1", got.Attrs.NextHop.String())
	require.Len(t, got.NLRI, 1)
	assert.Equal(t, "203.0.113.0/24", got.NLRI[0].String())
}

func TestUpdateMessageMissingWellKnownAttr(t *testing.T) {
	u := &UpdateMessage{
		NLRI: []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
	}
	b, err := u.encode(fourOctetCaps)
	require.NoError(t, err)

	_, err = Decode(b[HeaderLength:], MessageTypeUpdate, fourOctetCaps)
	require.Error(t, err)
	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifCodeUpdateMessageErr, n.Code)
	assert.Equal(t, NotifSubcodeMissingWellKnownAttr, n.Subcode)
}

func TestUpdateMessageAttrFlagsMismatch(t *testing.T) {
	// NEXT_HOP is well-known and transitive; flag it optional instead.
	badFlags := newFlags(true, true)
	nh := []byte{192, 0, 2, 1}
	raw := append([]byte{uint8(badFlags), PathAttrNextHop, uint8(len(nh))}, nh...)

	_, err := decodePathAttrs(raw, fourOctetCaps)
	require.Error(t, err)
	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifCodeUpdateMessageErr, n.Code)
	assert.Equal(t, NotifSubcodeAttrFlagsErr, n.Subcode)
}

func TestUpdateMessageTwoOctetASPath(t *testing.T) {
	origin := OriginIGP
	u := &UpdateMessage{
		Attrs: PathAttributes{
			Origin:  &origin,
			ASPath:  []ASPathSegment{{Type: ASPathSegmentSequence, ASNs: []uint32{65001}}},
			NextHop: netip.MustParseAddr("192.0.2.1"),
		},
		NLRI: []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")},
	}
	b, err := u.encode(twoOctetCaps)
	require.NoError(t, err)

	m, err := Decode(b[HeaderLength:], MessageTypeUpdate, twoOctetCaps)
	require.NoError(t, err)
	got := m.(*UpdateMessage)
	assert.Equal(t, []uint32{65001}, got.Attrs.ASPath[0].ASNs)
}

func TestNotificationRoundTrip(t *testing.T) {
	n := NewNotification(NotifCodeCease, 0, []byte("shutdown"))
	b, err := Encode(n, fourOctetCaps)
	require.NoError(t, err)

	m, err := Decode(b[HeaderLength:], MessageTypeNotification, fourOctetCaps)
	require.NoError(t, err)
	got := m.(*Notification)
	assert.Equal(t, NotifCodeCease, got.Code)
	assert.Equal(t, []byte("shutdown"), got.Data)
	assert.Contains(t, got.Error(), "Cease")
}

func TestKeepAliveRoundTrip(t *testing.T) {
	b, err := Encode(KeepAliveMessage{}, fourOctetCaps)
	require.NoError(t, err)
	assert.Len(t, b, HeaderLength)

	m, err := Decode(nil, MessageTypeKeepAlive, fourOctetCaps)
	require.NoError(t, err)
	assert.Equal(t, KeepAliveMessage{}, m)
}

func TestStreamReassemblesFragmentedReads(t *testing.T) {
	ka, err := Encode(KeepAliveMessage{}, fourOctetCaps)
	require.NoError(t, err)
	n := NewNotification(NotifCodeCease, 0, nil)
	nb, err := Encode(n, fourOctetCaps)
	require.NoError(t, err)

	whole := append(append([]byte{}, ka...), nb...)

	// feed one byte at a time; only whole messages should be emitted, and the
	// remainder should always be what's left over.
	var buf []byte
	var got []Message
	for i := 0; i < len(whole); i++ {
		buf = append(buf, whole[i])
		msgs, remainder, err := Stream(buf, fourOctetCaps)
		require.NoError(t, err)
		got = append(got, msgs...)
		buf = remainder
	}
	require.Len(t, got, 2)
	assert.Equal(t, MessageTypeKeepAlive, got[0].MessageType())
	assert.Equal(t, MessageTypeNotification, got[1].MessageType())
	assert.Empty(t, buf)
}

func TestStreamBadMarkerIsNotification(t *testing.T) {
	buf := make([]byte, HeaderLength)
	buf[0] = 0x00
	binaryPutUint16(buf[16:18], HeaderLength)
	buf[18] = MessageTypeKeepAlive

	_, _, err := Stream(buf, fourOctetCaps)
	require.Error(t, err)
	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifSubcodeConnNotSynchronized, n.Subcode)
}

func TestCapabilityUnknownParamTypeRejected(t *testing.T) {
	_, err := decodeOptionalParams([]byte{0x09, 0x01, 0xFF})
	require.Error(t, err)
	n, ok := err.(*Notification)
	require.True(t, ok)
	assert.Equal(t, NotifSubcodeUnsupportedOptionalParam, n.Subcode)
}

func TestCapabilityUnknownCodeIgnored(t *testing.T) {
	// an unknown capability code within a capability param must be ignored,
	// not rejected, per RFC 5492.
	raw := []byte{0xF0, 0x00}
	caps, err := decodeCapabilities(raw)
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, uint8(0xF0), caps[0].Code)
}

func binaryPutUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
