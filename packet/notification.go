package packet

import (
	"errors"
	"fmt"
)

// Notification is a NOTIFICATION message. It also implements error, so a
// decode failure anywhere in this package can be returned and propagated as a
// single value: the NOTIFICATION the caller should send on the wire.
type Notification struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

// NewNotification returns a *Notification for the given code/subcode/data.
func NewNotification(code, subcode uint8, data []byte) *Notification {
	return &Notification{Code: code, Subcode: subcode, Data: data}
}

func (n *Notification) MessageType() uint8 { return MessageTypeNotification }

func (n *Notification) decode(b []byte) error {
	// If a peer sends a NOTIFICATION message, and the receiver of the message
	// detects an error in that message, the receiver cannot use a
	// NOTIFICATION message to report this error back to the peer. Any such
	// error SHOULD be noticed, logged locally, and brought to the attention
	// of the administration of the peer.
	// https://www.rfc-editor.org/rfc/rfc4271#section-6.7
	if len(b) < 2 {
		return errors.New("packet: notification message too short")
	}
	n.Code = b[0]
	n.Subcode = b[1]
	if len(b) > 2 {
		n.Data = append([]byte(nil), b[2:]...)
	}
	return nil
}

func (n *Notification) encode() ([]byte, error) {
	b := make([]byte, 2, 2+len(n.Data))
	b[0] = n.Code
	b[1] = n.Subcode
	b = append(b, n.Data...)
	return prependHeader(b, MessageTypeNotification), nil
}

// Error renders the notification using the RFC 4271 code/subcode
// descriptions, so that logs and wrapped errors read as something other than
// two raw integers.
func (n *Notification) Error() string {
	var codeDesc, subcodeDesc string
	if d, ok := notifCodesMap[n.Code]; ok {
		codeDesc = d.desc
		if s, ok := d.subcodes[n.Subcode]; ok {
			subcodeDesc = s
		}
	}
	return fmt.Sprintf("notification code:%d (%s) subcode:%d (%s)",
		n.Code, codeDesc, n.Subcode, subcodeDesc)
}
