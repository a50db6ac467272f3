package packet

import (
	"encoding/binary"
	"math"
	"time"
)

// OpenMessage is an OPEN message. ASN holds the wire-encoded 2-octet field
// (AS_TRANS if the real ASN needs four octets); callers needing the real ASN
// should consult Capabilities() for a FourOctetsASN capability.
type OpenMessage struct {
	Version        uint8
	ASN            uint16
	HoldTime       uint16
	BGPID          uint32
	OptionalParams []optionalParam
}

func (o *OpenMessage) MessageType() uint8 { return MessageTypeOpen }

// NewOpenMessage builds an OPEN message advertising asn (via AS_TRANS plus a
// FourOctetsASN capability when asn exceeds 16 bits), holdTime, bgpID, and
// caps. A FourOctetsASN capability for asn is always included, per RFC 6793's
// four-octet ASN handling.
func NewOpenMessage(asn uint32, holdTime time.Duration, bgpID uint32, caps []Capability) *OpenMessage {
	allCaps := make([]Capability, 0, len(caps)+1)
	allCaps = append(allCaps, NewFourOctetASCapability(asn))
	for _, c := range caps {
		if c.Code != CapFourOctetASN {
			allCaps = append(allCaps, c)
		}
	}
	o := &OpenMessage{
		Version:  4,
		HoldTime: uint16(holdTime.Truncate(time.Second).Seconds()),
		BGPID:    bgpID,
		OptionalParams: []optionalParam{
			{paramType: capabilityOptionalParamType, capabilities: allCaps},
		},
	}
	if asn > math.MaxUint16 {
		o.ASN = ASTrans
	} else {
		o.ASN = uint16(asn)
	}
	return o
}

// Capabilities returns all capabilities carried by o's optional parameters.
func (o *OpenMessage) Capabilities() []Capability {
	caps := make([]Capability, 0)
	for _, p := range o.OptionalParams {
		caps = append(caps, p.capabilities...)
	}
	return caps
}

// FourOctetASN returns the real peer ASN from a FourOctetsASN capability, if
// present, and whether the capability was found.
func (o *OpenMessage) FourOctetASN() (uint32, bool) {
	for _, c := range o.Capabilities() {
		if c.Code == CapFourOctetASN {
			if asn, ok := FourOctetASValue(c); ok {
				return asn, true
			}
		}
	}
	return 0, false
}

// HasCapability reports whether o's capabilities include one with the given
// code, regardless of value.
func (o *OpenMessage) HasCapability(code uint8) bool {
	for _, c := range o.Capabilities() {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (o *OpenMessage) decode(b []byte) error {
	if len(b) < 10 {
		return NewNotification(NotifCodeMessageHeaderErr, NotifSubcodeBadMessageLen, nil)
	}
	o.Version = b[0]
	o.ASN = binary.BigEndian.Uint16(b[1:3])
	o.HoldTime = binary.BigEndian.Uint16(b[3:5])
	o.BGPID = binary.BigEndian.Uint32(b[5:9])
	paramsLen := int(b[9])
	if paramsLen != len(b)-10 {
		return NewNotification(NotifCodeOpenMessageErr, 0, nil)
	}
	params, err := decodeOptionalParams(b[10:])
	if err != nil {
		return err
	}
	o.OptionalParams = params
	return nil
}

func (o *OpenMessage) encode() ([]byte, error) {
	b := make([]byte, 9)
	b[0] = o.Version
	binary.BigEndian.PutUint16(b[1:3], o.ASN)
	binary.BigEndian.PutUint16(b[3:5], o.HoldTime)
	binary.BigEndian.PutUint32(b[5:9], o.BGPID)
	params := make([]byte, 0)
	for _, p := range o.OptionalParams {
		pb, err := p.encode()
		if err != nil {
			return nil, err
		}
		params = append(params, pb...)
	}
	b = append(b, uint8(len(params)))
	b = append(b, params...)
	return prependHeader(b, MessageTypeOpen), nil
}

// Validate checks o against the OPEN semantic rules: supported version,
// acceptable hold time, a syntactically valid non-zero, non-multicast BGP-ID,
// and (per RFC 6286) a BGP-ID distinct from the local router's when the
// session is iBGP. localID and the two ASNs are all in host byte order.
func (o *OpenMessage) Validate(localID, localAS, remoteAS uint32) error {
	if o.Version != 4 {
		supported := make([]byte, 2)
		binary.BigEndian.PutUint16(supported, 4)
		return NewNotification(NotifCodeOpenMessageErr,
			NotifSubcodeUnsupportedVersionNum, supported)
	}
	if o.HoldTime != 0 && o.HoldTime < 3 {
		return NewNotification(NotifCodeOpenMessageErr,
			NotifSubcodeUnacceptableHoldTime, nil)
	}
	if o.BGPID == 0 || isMulticast(o.BGPID) {
		return NewNotification(NotifCodeOpenMessageErr, NotifSubcodeBadBGPID, nil)
	}
	// https://www.rfc-editor.org/rfc/rfc6286#section-2.2
	if localAS == remoteAS && localID == o.BGPID {
		return NewNotification(NotifCodeOpenMessageErr, NotifSubcodeBadBGPID, nil)
	}
	if asn, ok := o.FourOctetASN(); ok && asn != remoteAS {
		return NewNotification(NotifCodeOpenMessageErr, NotifSubcodeBadPeerAS, nil)
	} else if !ok && o.ASN != ASTrans && uint32(o.ASN) != remoteAS {
		return NewNotification(NotifCodeOpenMessageErr, NotifSubcodeBadPeerAS, nil)
	}
	return nil
}

func isMulticast(bgpID uint32) bool {
	// 224.0.0.0/4
	return bgpID>>28 == 0xE
}
