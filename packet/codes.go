package packet

// Message types. https://tools.ietf.org/html/rfc4271#section-4.1
const (
	MessageTypeOpen         uint8 = 1
	MessageTypeUpdate       uint8 = 2
	MessageTypeNotification uint8 = 3
	MessageTypeKeepAlive    uint8 = 4
	MessageTypeRouteRefresh uint8 = 5
)

// HeaderLength is the length in bytes of the BGP message header: a 16 byte
// marker, a 16 bit length, and an 8 bit type.
const HeaderLength = 19

// MinMessageLength and MaxMessageLength bound the total message length
// (header included) absent the Extended Message capability.
// https://tools.ietf.org/html/rfc4271#section-4.1
const (
	MinMessageLength = HeaderLength
	MaxMessageLength = 4096
	// MaxExtendedMessageLength is the ceiling when both peers have negotiated
	// the Extended Message capability. https://www.rfc-editor.org/rfc/rfc8654
	MaxExtendedMessageLength = 65535
)

// NOTIFICATION error codes. https://www.rfc-editor.org/rfc/rfc4271#section-4.5
const (
	NotifCodeMessageHeaderErr uint8 = 1
	NotifCodeOpenMessageErr   uint8 = 2
	NotifCodeUpdateMessageErr uint8 = 3
	NotifCodeHoldTimerExpired uint8 = 4
	NotifCodeFSMErr           uint8 = 5
	NotifCodeCease            uint8 = 6
)

// Message Header Error subcodes.
const (
	NotifSubcodeConnNotSynchronized uint8 = 1
	NotifSubcodeBadMessageLen       uint8 = 2
	NotifSubcodeBadMessageType      uint8 = 3
)

// OPEN Message Error subcodes.
const (
	NotifSubcodeUnsupportedVersionNum    uint8 = 1
	NotifSubcodeBadPeerAS                uint8 = 2
	NotifSubcodeBadBGPID                 uint8 = 3
	NotifSubcodeUnsupportedOptionalParam uint8 = 4
	NotifSubcodeUnacceptableHoldTime     uint8 = 6
	// https://www.rfc-editor.org/rfc/rfc5492#section-5
	NotifSubcodeUnsupportedCapability uint8 = 7
)

// UPDATE Message Error subcodes.
const (
	NotifSubcodeMalformedAttrList     uint8 = 1
	NotifSubcodeUnrecognizedWellKnown uint8 = 2
	NotifSubcodeMissingWellKnownAttr  uint8 = 3
	NotifSubcodeAttrFlagsErr          uint8 = 4
	NotifSubcodeAttrLenErr            uint8 = 5
	NotifSubcodeInvalidOriginAttr     uint8 = 6
	NotifSubcodeInvalidNextHopAttr    uint8 = 8
	NotifSubcodeOptionalAttrErr       uint8 = 9
	NotifSubcodeInvalidNetworkField   uint8 = 10
	NotifSubcodeMalformedASPath       uint8 = 11
)

// FSM Error subcodes. https://www.rfc-editor.org/rfc/rfc6608
const (
	NotifSubcodeRxUnexpectedMessageOpenSent    uint8 = 1
	NotifSubcodeRxUnexpectedMessageOpenConfirm uint8 = 2
	NotifSubcodeRxUnexpectedMessageEstablished uint8 = 3
)

type notifCodeDesc struct {
	desc     string
	subcodes map[uint8]string
}

// notifCodesMap provides human-readable descriptions for NOTIFICATION codes
// and subcodes, used when rendering a Notification as an error string.
var notifCodesMap = map[uint8]notifCodeDesc{
	NotifCodeMessageHeaderErr: {
		desc: "Message Header Error",
		subcodes: map[uint8]string{
			NotifSubcodeConnNotSynchronized: "Connection Not Synchronized",
			NotifSubcodeBadMessageLen:       "Bad Message Length",
			NotifSubcodeBadMessageType:      "Bad Message Type",
		},
	},
	NotifCodeOpenMessageErr: {
		desc: "OPEN Message Error",
		subcodes: map[uint8]string{
			NotifSubcodeUnsupportedVersionNum:    "Unsupported Version Number",
			NotifSubcodeBadPeerAS:                "Bad Peer AS",
			NotifSubcodeBadBGPID:                 "Bad BGP Identifier",
			NotifSubcodeUnsupportedOptionalParam: "Unsupported Optional Parameter",
			NotifSubcodeUnacceptableHoldTime:     "Unacceptable Hold Time",
			NotifSubcodeUnsupportedCapability:    "Unsupported Capability",
		},
	},
	NotifCodeUpdateMessageErr: {
		desc: "UPDATE Message Error",
		subcodes: map[uint8]string{
			NotifSubcodeMalformedAttrList:     "Malformed Attribute List",
			NotifSubcodeUnrecognizedWellKnown: "Unrecognized Well-known Attribute",
			NotifSubcodeMissingWellKnownAttr:  "Missing Well-known Attribute",
			NotifSubcodeAttrFlagsErr:          "Attribute Flags Error",
			NotifSubcodeAttrLenErr:            "Attribute Length Error",
			NotifSubcodeInvalidOriginAttr:     "Invalid ORIGIN Attribute",
			NotifSubcodeInvalidNextHopAttr:    "Invalid NEXT_HOP Attribute",
			NotifSubcodeOptionalAttrErr:       "Optional Attribute Error",
			NotifSubcodeInvalidNetworkField:   "Invalid Network Field",
			NotifSubcodeMalformedASPath:       "Malformed AS_PATH",
		},
	},
	NotifCodeHoldTimerExpired: {
		desc:     "Hold Timer Expired",
		subcodes: map[uint8]string{},
	},
	NotifCodeFSMErr: {
		desc: "Finite State Machine Error",
		subcodes: map[uint8]string{
			NotifSubcodeRxUnexpectedMessageOpenSent:    "Receive Unexpected Message in OpenSent State",
			NotifSubcodeRxUnexpectedMessageOpenConfirm: "Receive Unexpected Message in OpenConfirm State",
			NotifSubcodeRxUnexpectedMessageEstablished: "Receive Unexpected Message in Established State",
		},
	},
	NotifCodeCease: {
		desc:     "Cease",
		subcodes: map[uint8]string{},
	},
}

// Path attribute type codes. https://www.rfc-editor.org/rfc/rfc4271#section-5
const (
	PathAttrOrigin          uint8 = 1
	PathAttrASPath          uint8 = 2
	PathAttrNextHop         uint8 = 3
	PathAttrMultiExitDisc   uint8 = 4
	PathAttrLocalPref       uint8 = 5
	PathAttrAtomicAggregate uint8 = 6
	PathAttrAggregator      uint8 = 7
	PathAttrCommunities     uint8 = 8
	PathAttrOriginatorID    uint8 = 9
	PathAttrClusterList     uint8 = 10
	PathAttrMPReachNLRI     uint8 = 14
	PathAttrMPUnreachNLRI   uint8 = 15
)

// ORIGIN attribute values.
const (
	OriginIGP        uint8 = 0
	OriginEGP        uint8 = 1
	OriginIncomplete uint8 = 2
)

// AS_PATH segment types.
const (
	ASPathSegmentSet      uint8 = 1
	ASPathSegmentSequence uint8 = 2
)

// Capability codes. https://www.iana.org/assignments/capability-codes/
const (
	CapMultiProtocol        uint8 = 1
	CapRouteRefresh         uint8 = 2
	CapExtendedMessage      uint8 = 6
	CapGracefulRestart      uint8 = 64
	CapFourOctetASN         uint8 = 65
	CapAddPath              uint8 = 69
	CapEnhancedRouteRefresh uint8 = 70
)

// AFI/SAFI values commonly exercised by MultiProtocol capabilities and
// MP_REACH/MP_UNREACH NLRI attributes.
const (
	AFIIPv4 uint16 = 1
	AFIIPv6 uint16 = 2

	SAFIUnicast uint8 = 1
)

// ASTrans is the reserved "AS_TRANS" value used in the 2-octet ASN field of
// an OPEN message when the real ASN requires four octets.
// https://www.rfc-editor.org/rfc/rfc6793#section-4.1
const ASTrans uint16 = 23456

// optional parameter type for capabilities.
// https://www.rfc-editor.org/rfc/rfc5492#section-4
const capabilityOptionalParamType uint8 = 2
