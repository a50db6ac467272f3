package packet

import (
	"encoding/binary"
	"fmt"
)

// Message is any of the five BGP message types the core speaks: OPEN,
// UPDATE, NOTIFICATION, KEEPALIVE, ROUTE-REFRESH.
type Message interface {
	MessageType() uint8
}

// NegotiatedCapabilities carries the subset of OPEN capability negotiation
// that changes codec wire widths: four-octet ASN widens AS_PATH and
// AGGREGATOR fields, and Extended Message raises the length ceiling. The
// codec takes this as an explicit, small value rather than the FSM itself,
// so that packet has no dependency on the fsm package.
type NegotiatedCapabilities struct {
	FourOctetASN    bool
	ExtendedMessage bool
}

func (c NegotiatedCapabilities) maxLength() int {
	if c.ExtendedMessage {
		return MaxExtendedMessageLength
	}
	return MaxMessageLength
}

// prependHeader prepends the 19 byte BGP message header to body, setting the
// marker to all-ones and length/type fields accordingly.
func prependHeader(body []byte, messageType uint8) []byte {
	b := make([]byte, HeaderLength, HeaderLength+len(body))
	for i := 0; i < 16; i++ {
		b[i] = 0xFF
	}
	binary.BigEndian.PutUint16(b[16:18], uint16(len(body)+HeaderLength))
	b[18] = messageType
	return append(b, body...)
}

// Decode parses the body of a single message of the given type, using caps
// for capability-dependent wire widths. It returns a *Notification error on
// any validation failure, except for a NOTIFICATION body shorter than two
// bytes, which is reported as a plain error.
func Decode(body []byte, messageType uint8, caps NegotiatedCapabilities) (Message, error) {
	switch messageType {
	case MessageTypeOpen:
		o := &OpenMessage{}
		if err := o.decode(body); err != nil {
			return nil, err
		}
		return o, nil
	case MessageTypeUpdate:
		u := &UpdateMessage{}
		if err := u.decode(body, caps); err != nil {
			return nil, err
		}
		return u, nil
	case MessageTypeNotification:
		n := &Notification{}
		if err := n.decode(body); err != nil {
			return nil, err
		}
		return n, nil
	case MessageTypeKeepAlive:
		return KeepAliveMessage{}, nil
	case MessageTypeRouteRefresh:
		return RouteRefreshMessage(body), nil
	default:
		return nil, &Notification{
			Code:    NotifCodeMessageHeaderErr,
			Subcode: NotifSubcodeBadMessageType,
			Data:    []byte{messageType},
		}
	}
}

// Encode renders m to its wire form, including the 19 byte header.
func Encode(m Message, caps NegotiatedCapabilities) ([]byte, error) {
	switch m := m.(type) {
	case *OpenMessage:
		return m.encode()
	case *UpdateMessage:
		return m.encode(caps)
	case *Notification:
		return m.encode()
	case KeepAliveMessage:
		return prependHeader(nil, MessageTypeKeepAlive), nil
	case RouteRefreshMessage:
		return prependHeader(m, MessageTypeRouteRefresh), nil
	default:
		return nil, fmt.Errorf("packet: unknown message type %T", m)
	}
}

// Stream peels whole messages off of buf as it accumulates bytes read from a
// connection. It returns the decoded messages found and the unconsumed
// remainder of buf, which the caller should prepend to the next read. Framing
// errors (bad marker, bad length, bad type) are returned as a *Notification
// error and stop further peeling of buf.
func Stream(buf []byte, caps NegotiatedCapabilities) (messages []Message, remainder []byte, err error) {
	for {
		if len(buf) < HeaderLength {
			return messages, buf, nil
		}
		for i := 0; i < 16; i++ {
			if buf[i] != 0xFF {
				return messages, buf, &Notification{
					Code:    NotifCodeMessageHeaderErr,
					Subcode: NotifSubcodeConnNotSynchronized,
				}
			}
		}
		totalLen := int(binary.BigEndian.Uint16(buf[16:18]))
		msgType := buf[18]
		if totalLen < MinMessageLength || totalLen > caps.maxLength() {
			return messages, buf, &Notification{
				Code:    NotifCodeMessageHeaderErr,
				Subcode: NotifSubcodeBadMessageLen,
			}
		}
		if len(buf) < totalLen {
			// incomplete trailing message; wait for more bytes.
			return messages, buf, nil
		}
		body := buf[HeaderLength:totalLen]
		m, err := Decode(body, msgType, caps)
		if err != nil {
			return messages, buf, err
		}
		messages = append(messages, m)
		buf = buf[totalLen:]
	}
}

// KeepAliveMessage is a KEEPALIVE message; it carries no data.
type KeepAliveMessage struct{}

func (k KeepAliveMessage) MessageType() uint8 { return MessageTypeKeepAlive }

// RouteRefreshMessage is a ROUTE-REFRESH message (RFC 2918), carried through
// unparsed since the core does not act on its contents.
type RouteRefreshMessage []byte

func (r RouteRefreshMessage) MessageType() uint8 { return MessageTypeRouteRefresh }
