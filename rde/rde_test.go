package rde

import (
	"net/netip"
	"testing"

	"github.com/polaris-bgp/bgpd/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableProcessUpdateAddsAndWithdraws(t *testing.T) {
	tbl := NewTable()
	origin := packet.OriginIGP
	u := &packet.UpdateMessage{
		Attrs: packet.PathAttributes{
			Origin:  &origin,
			NextHop: netip.MustParseAddr("192.0.2.1"),
		},
		NLRI: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/24"),
			netip.MustParsePrefix("10.0.1.0/24"),
		},
	}
	tbl.ProcessUpdate(0x0A000001, u)
	assert.Equal(t, 2, tbl.RouteCount())

	withdraw := &packet.UpdateMessage{
		Withdrawn: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
	}
	tbl.ProcessUpdate(0x0A000001, withdraw)
	require.Equal(t, 1, tbl.RouteCount())

	routes := tbl.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "10.0.1.0/24", routes[0].Prefix.String())
}

func TestTableDistinguishesPeers(t *testing.T) {
	tbl := NewTable()
	origin := packet.OriginIGP
	u := &packet.UpdateMessage{
		Attrs: packet.PathAttributes{Origin: &origin, NextHop: netip.MustParseAddr("192.0.2.1")},
		NLRI:  []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")},
	}
	tbl.ProcessUpdate(0x0A000001, u)
	tbl.ProcessUpdate(0x0A000002, u)
	assert.Equal(t, 2, tbl.RouteCount())
}
