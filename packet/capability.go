package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Capability is a BGP capability as defined by RFC 5492, carried inside an
// OPEN message's optional parameters.
type Capability struct {
	Code  uint8
	Value []byte
}

// Equal reports whether c and d carry the same code and value. A nil Value
// compares equal to an empty, non-nil Value.
func (c Capability) Equal(d Capability) bool {
	if c.Code != d.Code {
		return false
	}
	return bytes.Equal(c.Value, d.Value)
}

func (c Capability) encode() []byte {
	b := make([]byte, 2, 2+len(c.Value))
	b[0] = c.Code
	b[1] = uint8(len(c.Value))
	return append(b, c.Value...)
}

// NewMultiProtocolCapability returns a MultiProtocol (code 1) Capability for
// the given AFI/SAFI pair. https://www.rfc-editor.org/rfc/rfc4760
func NewMultiProtocolCapability(afi uint16, safi uint8) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint16(v, afi)
	v[3] = safi
	return Capability{Code: CapMultiProtocol, Value: v}
}

// NewFourOctetASCapability returns a FourOctetsASN (code 65) Capability for
// asn. https://www.rfc-editor.org/rfc/rfc6793
func NewFourOctetASCapability(asn uint32) Capability {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, asn)
	return Capability{Code: CapFourOctetASN, Value: v}
}

// NewExtendedMessageCapability returns the empty-valued ExtendedMessage
// (code 6) Capability. https://www.rfc-editor.org/rfc/rfc8654
func NewExtendedMessageCapability() Capability {
	return Capability{Code: CapExtendedMessage}
}

// NewRouteRefreshCapability returns the empty-valued RouteRefresh (code 2)
// Capability. https://www.rfc-editor.org/rfc/rfc2918
func NewRouteRefreshCapability() Capability {
	return Capability{Code: CapRouteRefresh}
}

// MultiProtocolValue decodes the AFI/SAFI carried by a MultiProtocol
// capability's Value. ok is false if Value is not 4 bytes.
func MultiProtocolValue(c Capability) (afi uint16, safi uint8, ok bool) {
	if len(c.Value) != 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(c.Value), c.Value[3], true
}

// FourOctetASValue decodes the ASN carried by a FourOctetsASN capability's
// Value. ok is false if Value is not 4 bytes.
func FourOctetASValue(c Capability) (asn uint32, ok bool) {
	if len(c.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(c.Value), true
}

// optionalParam is a single OPEN message optional parameter, of which the
// only type this codec understands is the capability-carrying one (type 2).
// Decoding any other parameter type fails with an Unsupported Optional
// Parameter NOTIFICATION (see decodeOptionalParams); raw only lets encode
// emit such a parameter as opaque bytes.
type optionalParam struct {
	paramType uint8
	// capabilities is populated when paramType == capabilityOptionalParamType.
	capabilities []Capability
	// raw holds the undecoded value for any other parameter type.
	raw []byte
}

func (p *optionalParam) encode() ([]byte, error) {
	if p.paramType == capabilityOptionalParamType {
		if len(p.capabilities) == 0 {
			return nil, errors.New("packet: empty capabilities in capability optional param")
		}
		caps := make([]byte, 0)
		for _, c := range p.capabilities {
			caps = append(caps, c.encode()...)
		}
		b := make([]byte, 2, 2+len(caps))
		b[0] = capabilityOptionalParamType
		b[1] = uint8(len(caps))
		return append(b, caps...), nil
	}
	b := make([]byte, 2, 2+len(p.raw))
	b[0] = p.paramType
	b[1] = uint8(len(p.raw))
	return append(b, p.raw...), nil
}

func decodeCapabilities(b []byte) ([]Capability, error) {
	caps := make([]Capability, 0)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, NewNotification(NotifCodeOpenMessageErr, 0, nil)
		}
		code := b[0]
		l := int(b[1])
		if len(b) < l+2 {
			return nil, NewNotification(NotifCodeOpenMessageErr, 0, nil)
		}
		var value []byte
		if l > 0 {
			value = append([]byte(nil), b[2:2+l]...)
		}
		caps = append(caps, Capability{Code: code, Value: value})
		b = b[2+l:]
	}
	return caps, nil
}

func decodeOptionalParams(b []byte) ([]optionalParam, error) {
	params := make([]optionalParam, 0)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, NewNotification(NotifCodeOpenMessageErr, 0, nil)
		}
		paramType := b[0]
		l := int(b[1])
		if len(b) < l+2 {
			return nil, NewNotification(NotifCodeOpenMessageErr, 0, nil)
		}
		value := b[2 : 2+l]
		switch paramType {
		case capabilityOptionalParamType:
			caps, err := decodeCapabilities(value)
			if err != nil {
				return nil, err
			}
			params = append(params, optionalParam{paramType: paramType, capabilities: caps})
		default:
			// https://www.rfc-editor.org/rfc/rfc4271#section-4.2
			// unknown optional parameter types are a NOTIFICATION, not a
			// silent skip -- unlike unknown *capability* codes within a
			// capability optional parameter, which RFC 5492 requires be
			// ignored.
			return nil, NewNotification(NotifCodeOpenMessageErr,
				NotifSubcodeUnsupportedOptionalParam, nil)
		}
		b = b[2+l:]
	}
	return params, nil
}
