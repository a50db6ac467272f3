package packet

import (
	"encoding/binary"
	"net/netip"
)

// PathAttrFlags are the flags octet preceding every path attribute.
// https://www.rfc-editor.org/rfc/rfc4271#section-4.3
type PathAttrFlags uint8

// Optional reports whether the attribute is optional (1) or well-known (0).
func (f PathAttrFlags) Optional() bool { return f&0x80 != 0 }

// Transitive reports whether an optional attribute is transitive.
func (f PathAttrFlags) Transitive() bool { return f&0x40 != 0 }

// Partial reports whether an optional transitive attribute's information is
// partial.
func (f PathAttrFlags) Partial() bool { return f&0x20 != 0 }

// ExtendedLength reports whether the attribute length field is two octets
// rather than one.
func (f PathAttrFlags) ExtendedLength() bool { return f&0x10 != 0 }

func newFlags(optional, transitive bool) PathAttrFlags {
	var f PathAttrFlags
	if optional {
		f |= 0x80
	}
	if transitive {
		f |= 0x40
	}
	return f
}

// ASPathSegment is one segment (AS_SET or AS_SEQUENCE) of an AS_PATH
// attribute.
type ASPathSegment struct {
	Type uint8 // ASPathSegmentSet or ASPathSegmentSequence
	ASNs []uint32
}

// Aggregator is the decoded AGGREGATOR path attribute.
type Aggregator struct {
	ASN     uint32
	Address netip.Addr
}

// PathAttributes holds the decoded well-known and common optional BGP path
// attributes carried by an UPDATE message. Unrecognized attributes are
// preserved in Unknown for round-tripping and for RDE consumers that care
// about attributes this codec doesn't interpret.
type PathAttributes struct {
	Origin          *uint8 // OriginIGP, OriginEGP, or OriginIncomplete
	ASPath          []ASPathSegment
	NextHop         netip.Addr
	MultiExitDisc   *uint32
	LocalPref       *uint32
	AtomicAggregate bool
	Aggregator      *Aggregator
	Communities     []uint32
	MPReach         *MPReachNLRI
	MPUnreach       *MPUnreachNLRI
	Unknown         []RawPathAttr
}

// RawPathAttr preserves an attribute this codec did not specifically decode.
type RawPathAttr struct {
	Flags PathAttrFlags
	Code  uint8
	Value []byte
}

// MPReachNLRI is the decoded MP_REACH_NLRI attribute (RFC 4760).
type MPReachNLRI struct {
	AFI      uint16
	SAFI     uint8
	NextHops [][]byte
	NLRI     []netip.Prefix
}

// MPUnreachNLRI is the decoded MP_UNREACH_NLRI attribute (RFC 4760).
type MPUnreachNLRI struct {
	AFI       uint16
	SAFI      uint8
	Withdrawn []netip.Prefix
}

// UpdateMessage is an UPDATE message: withdrawn routes, path attributes, and
// NLRI.
type UpdateMessage struct {
	Withdrawn []netip.Prefix
	Attrs     PathAttributes
	NLRI      []netip.Prefix
}

func (u *UpdateMessage) MessageType() uint8 { return MessageTypeUpdate }

func asnWidth(caps NegotiatedCapabilities) int {
	if caps.FourOctetASN {
		return 4
	}
	return 2
}

func decodeASNs(b []byte, width int) ([]uint32, error) {
	if len(b)%width != 0 {
		return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedASPath, nil)
	}
	asns := make([]uint32, 0, len(b)/width)
	for len(b) > 0 {
		if width == 4 {
			asns = append(asns, binary.BigEndian.Uint32(b[:4]))
		} else {
			asns = append(asns, uint32(binary.BigEndian.Uint16(b[:2])))
		}
		b = b[width:]
	}
	return asns, nil
}

func encodeASNs(asns []uint32, width int) []byte {
	b := make([]byte, 0, len(asns)*width)
	for _, asn := range asns {
		e := make([]byte, width)
		if width == 4 {
			binary.BigEndian.PutUint32(e, asn)
		} else {
			binary.BigEndian.PutUint16(e, uint16(asn))
		}
		b = append(b, e...)
	}
	return b
}

func decodePrefix(b []byte) (netip.Prefix, []byte, error) {
	if len(b) < 1 {
		return netip.Prefix{}, nil, NewNotification(NotifCodeUpdateMessageErr,
			NotifSubcodeInvalidNetworkField, nil)
	}
	bitLen := int(b[0])
	if bitLen > 32 {
		return netip.Prefix{}, nil, NewNotification(NotifCodeUpdateMessageErr,
			NotifSubcodeInvalidNetworkField, nil)
	}
	b = b[1:]
	octets := (bitLen + 7) / 8
	if len(b) < octets {
		return netip.Prefix{}, nil, NewNotification(NotifCodeUpdateMessageErr,
			NotifSubcodeInvalidNetworkField, nil)
	}
	var addr4 [4]byte
	copy(addr4[:], b[:octets])
	p := netip.PrefixFrom(netip.AddrFrom4(addr4), bitLen)
	return p, b[octets:], nil
}

func decodePrefixes(b []byte) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0)
	for len(b) > 0 {
		var (
			p   netip.Prefix
			err error
		)
		p, b, err = decodePrefix(b)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

func encodePrefix(p netip.Prefix) []byte {
	bits := p.Bits()
	octets := (bits + 7) / 8
	addr := p.Addr().As4()
	b := make([]byte, 1+octets)
	b[0] = uint8(bits)
	copy(b[1:], addr[:octets])
	return b
}

func encodePrefixes(prefixes []netip.Prefix) []byte {
	b := make([]byte, 0)
	for _, p := range prefixes {
		b = append(b, encodePrefix(p)...)
	}
	return b
}

// decode parses b (the message body after the 19 byte header) into u.
func (u *UpdateMessage) decode(b []byte, caps NegotiatedCapabilities) error {
	if len(b) < 2 {
		return NewNotification(NotifCodeUpdateMessageErr, 0, nil)
	}
	wrl := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < wrl+2 {
		return NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttrList, nil)
	}
	withdrawn, err := decodePrefixes(b[:wrl])
	if err != nil {
		return err
	}
	u.Withdrawn = withdrawn
	b = b[wrl:]

	pal := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < pal {
		return NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttrList, nil)
	}
	attrs, err := decodePathAttrs(b[:pal], caps)
	if err != nil {
		return err
	}
	u.Attrs = attrs
	b = b[pal:]

	nlri, err := decodePrefixes(b)
	if err != nil {
		return err
	}
	u.NLRI = nlri

	if len(u.NLRI) > 0 {
		if attrs.Origin == nil {
			return NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeMissingWellKnownAttr, []byte{PathAttrOrigin})
		}
		if attrs.ASPath == nil {
			return NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeMissingWellKnownAttr, []byte{PathAttrASPath})
		}
		if !attrs.NextHop.IsValid() || !attrs.NextHop.Is4() {
			return NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeInvalidNextHopAttr, nil)
		}
	}
	return nil
}

func decodePathAttrs(b []byte, caps NegotiatedCapabilities) (PathAttributes, error) {
	var attrs PathAttributes
	width := asnWidth(caps)
	for len(b) > 0 {
		if len(b) < 3 {
			return attrs, NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeMalformedAttrList, nil)
		}
		flags := PathAttrFlags(b[0])
		code := b[1]
		var (
			attrLen int
			rest    []byte
		)
		if flags.ExtendedLength() {
			if len(b) < 4 {
				return attrs, NewNotification(NotifCodeUpdateMessageErr,
					NotifSubcodeMalformedAttrList, nil)
			}
			attrLen = int(binary.BigEndian.Uint16(b[2:4]))
			rest = b[4:]
		} else {
			attrLen = int(b[2])
			rest = b[3:]
		}
		if len(rest) < attrLen {
			return attrs, NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeMalformedAttrList, nil)
		}
		value := rest[:attrLen]
		if err := decodeOneAttr(&attrs, code, flags, value, width); err != nil {
			return attrs, err
		}
		b = rest[attrLen:]
	}
	return attrs, nil
}

// wellKnownAttrFlags returns the optional/transitive bits RFC 4271, RFC 1997,
// and RFC 4760 mandate for a recognized attribute code. ok is false for an
// attribute this codec doesn't enforce flags on (it round-trips via
// attrs.Unknown instead).
func wellKnownAttrFlags(code uint8) (wantOptional, wantTransitive, ok bool) {
	switch code {
	case PathAttrOrigin, PathAttrASPath, PathAttrNextHop, PathAttrLocalPref, PathAttrAtomicAggregate:
		return false, true, true
	case PathAttrMultiExitDisc, PathAttrMPReachNLRI, PathAttrMPUnreachNLRI:
		return true, false, true
	case PathAttrAggregator, PathAttrCommunities:
		return true, true, true
	default:
		return false, false, false
	}
}

// validateAttrFlags checks flags against the optional/transitive bits
// wellKnownAttrFlags mandates for code, per RFC 4271 6.3: "If any recognized
// attribute has Attribute Flags that conflict with the Attribute Type Code,
// then the Error Subcode MUST be set to Attribute Flags Error."
func validateAttrFlags(code uint8, flags PathAttrFlags, value []byte) error {
	wantOptional, wantTransitive, ok := wellKnownAttrFlags(code)
	if !ok || (flags.Optional() == wantOptional && flags.Transitive() == wantTransitive) {
		return nil
	}
	return NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeAttrFlagsErr,
		notifAttrData(flags, code, value))
}

func decodeOneAttr(attrs *PathAttributes, code uint8, flags PathAttrFlags, value []byte, asnWidth int) error {
	if err := validateAttrFlags(code, flags, value); err != nil {
		return err
	}
	switch code {
	case PathAttrOrigin:
		if len(value) != 1 || value[0] > OriginIncomplete {
			return NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeInvalidOriginAttr, notifAttrData(flags, code, value))
		}
		v := value[0]
		attrs.Origin = &v
	case PathAttrASPath:
		segs, err := decodeASPath(value, asnWidth)
		if err != nil {
			return err
		}
		attrs.ASPath = segs
	case PathAttrNextHop:
		if len(value) != 4 {
			return NewNotification(NotifCodeUpdateMessageErr,
				NotifSubcodeInvalidNextHopAttr, notifAttrData(flags, code, value))
		}
		var a4 [4]byte
		copy(a4[:], value)
		attrs.NextHop = netip.AddrFrom4(a4)
	case PathAttrMultiExitDisc:
		if len(value) != 4 {
			return attrLenErr(flags, code, value)
		}
		v := binary.BigEndian.Uint32(value)
		attrs.MultiExitDisc = &v
	case PathAttrLocalPref:
		if len(value) != 4 {
			return attrLenErr(flags, code, value)
		}
		v := binary.BigEndian.Uint32(value)
		attrs.LocalPref = &v
	case PathAttrAtomicAggregate:
		if len(value) != 0 {
			return attrLenErr(flags, code, value)
		}
		attrs.AtomicAggregate = true
	case PathAttrAggregator:
		if len(value) != asnWidth+4 {
			return attrLenErr(flags, code, value)
		}
		var asn uint32
		if asnWidth == 4 {
			asn = binary.BigEndian.Uint32(value[:4])
		} else {
			asn = uint32(binary.BigEndian.Uint16(value[:2]))
		}
		var a4 [4]byte
		copy(a4[:], value[asnWidth:])
		attrs.Aggregator = &Aggregator{ASN: asn, Address: netip.AddrFrom4(a4)}
	case PathAttrCommunities:
		if len(value) == 0 || len(value)%4 != 0 {
			return attrLenErr(flags, code, value)
		}
		cs, _ := decodeASNs(value, 4)
		attrs.Communities = cs
	case PathAttrMPReachNLRI:
		mp, err := decodeMPReach(value)
		if err != nil {
			return err
		}
		attrs.MPReach = mp
	case PathAttrMPUnreachNLRI:
		mp, err := decodeMPUnreach(value)
		if err != nil {
			return err
		}
		attrs.MPUnreach = mp
	default:
		attrs.Unknown = append(attrs.Unknown, RawPathAttr{
			Flags: flags, Code: code, Value: append([]byte(nil), value...),
		})
	}
	return nil
}

func attrLenErr(flags PathAttrFlags, code uint8, value []byte) error {
	return NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeAttrLenErr,
		notifAttrData(flags, code, value))
}

func notifAttrData(flags PathAttrFlags, code uint8, value []byte) []byte {
	d := make([]byte, 0, 3+len(value))
	d = append(d, uint8(flags), code, uint8(len(value)))
	return append(d, value...)
}

func decodeASPath(b []byte, width int) ([]ASPathSegment, error) {
	segs := make([]ASPathSegment, 0)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedASPath, nil)
		}
		segType := b[0]
		segCount := int(b[1])
		if segType != ASPathSegmentSet && segType != ASPathSegmentSequence {
			return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedASPath, nil)
		}
		segLen := segCount * width
		b = b[2:]
		if len(b) < segLen {
			return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeMalformedASPath, nil)
		}
		asns, err := decodeASNs(b[:segLen], width)
		if err != nil {
			return nil, err
		}
		segs = append(segs, ASPathSegment{Type: segType, ASNs: asns})
		b = b[segLen:]
	}
	return segs, nil
}

func decodeMPReach(b []byte) (*MPReachNLRI, error) {
	if len(b) < 5 {
		return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeAttrLenErr, nil)
	}
	mp := &MPReachNLRI{
		AFI:  binary.BigEndian.Uint16(b[:2]),
		SAFI: b[2],
	}
	nhLen := int(b[3])
	b = b[4:]
	if len(b) < nhLen+1 { // +1 reserved byte
		return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeAttrLenErr, nil)
	}
	nh := b[:nhLen]
	for len(nh) > 0 {
		n := 16
		if len(nh) < n {
			n = len(nh)
		}
		mp.NextHops = append(mp.NextHops, append([]byte(nil), nh[:n]...))
		nh = nh[n:]
	}
	b = b[nhLen+1:]
	if mp.AFI == AFIIPv4 {
		nlri, err := decodePrefixes(b)
		if err != nil {
			return nil, err
		}
		mp.NLRI = nlri
	}
	return mp, nil
}

func decodeMPUnreach(b []byte) (*MPUnreachNLRI, error) {
	if len(b) < 3 {
		return nil, NewNotification(NotifCodeUpdateMessageErr, NotifSubcodeAttrLenErr, nil)
	}
	mp := &MPUnreachNLRI{
		AFI:  binary.BigEndian.Uint16(b[:2]),
		SAFI: b[2],
	}
	if mp.AFI == AFIIPv4 {
		withdrawn, err := decodePrefixes(b[3:])
		if err != nil {
			return nil, err
		}
		mp.Withdrawn = withdrawn
	}
	return mp, nil
}

func (u *UpdateMessage) encode(caps NegotiatedCapabilities) ([]byte, error) {
	withdrawn := encodePrefixes(u.Withdrawn)
	attrs := encodePathAttrs(u.Attrs, asnWidth(caps))
	nlri := encodePrefixes(u.NLRI)

	body := make([]byte, 0, 4+len(withdrawn)+len(attrs)+len(nlri))
	wrl := make([]byte, 2)
	binary.BigEndian.PutUint16(wrl, uint16(len(withdrawn)))
	body = append(body, wrl...)
	body = append(body, withdrawn...)
	pal := make([]byte, 2)
	binary.BigEndian.PutUint16(pal, uint16(len(attrs)))
	body = append(body, pal...)
	body = append(body, attrs...)
	body = append(body, nlri...)
	return prependHeader(body, MessageTypeUpdate), nil
}

func encodeAttr(b []byte, flags PathAttrFlags, code uint8, value []byte) []byte {
	if len(value) > 255 {
		flags |= 0x10
		b = append(b, uint8(flags), code)
		l := make([]byte, 2)
		binary.BigEndian.PutUint16(l, uint16(len(value)))
		b = append(b, l...)
	} else {
		b = append(b, uint8(flags), code, uint8(len(value)))
	}
	return append(b, value...)
}

func encodePathAttrs(attrs PathAttributes, width int) []byte {
	b := make([]byte, 0)
	if attrs.Origin != nil {
		b = encodeAttr(b, newFlags(false, true), PathAttrOrigin, []byte{*attrs.Origin})
	}
	if attrs.ASPath != nil {
		v := make([]byte, 0)
		for _, seg := range attrs.ASPath {
			v = append(v, seg.Type, uint8(len(seg.ASNs)))
			v = append(v, encodeASNs(seg.ASNs, width)...)
		}
		b = encodeAttr(b, newFlags(false, true), PathAttrASPath, v)
	}
	if attrs.NextHop.IsValid() {
		nh := attrs.NextHop.As4()
		b = encodeAttr(b, newFlags(false, true), PathAttrNextHop, nh[:])
	}
	if attrs.MultiExitDisc != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, *attrs.MultiExitDisc)
		b = encodeAttr(b, newFlags(true, false), PathAttrMultiExitDisc, v)
	}
	if attrs.LocalPref != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, *attrs.LocalPref)
		b = encodeAttr(b, newFlags(false, true), PathAttrLocalPref, v)
	}
	if attrs.AtomicAggregate {
		b = encodeAttr(b, newFlags(false, true), PathAttrAtomicAggregate, nil)
	}
	if attrs.Aggregator != nil {
		v := make([]byte, 0, width+4)
		v = append(v, encodeASNs([]uint32{attrs.Aggregator.ASN}, width)...)
		addr := attrs.Aggregator.Address.As4()
		v = append(v, addr[:]...)
		b = encodeAttr(b, newFlags(true, true), PathAttrAggregator, v)
	}
	if attrs.Communities != nil {
		b = encodeAttr(b, newFlags(true, true), PathAttrCommunities,
			encodeASNs(attrs.Communities, 4))
	}
	for _, raw := range attrs.Unknown {
		b = encodeAttr(b, raw.Flags, raw.Code, raw.Value)
	}
	return b
}
