// Package icd defines the Anachro wire-level message schema shared by
// every transport: the Component messages a client sends to the
// broker, and the Arbitrator messages the broker sends back. The
// concrete byte-level serialization of these types is an external
// collaborator (see package codec); this package only fixes their
// logical shape.
package icd

import (
	"github.com/google/uuid"
)

// ClientID is the 128-bit identity the broker assigns a client at
// registration. It is stable for the lifetime of the session.
type ClientID = uuid.UUID

// NilClientID is the zero-value identity, used before a client has
// completed registration.
var NilClientID = uuid.Nil

// Version is the semantic version a component reports at registration.
type Version struct {
	Major   uint8
	Minor   uint8
	Trivial uint8
	Misc    uint8
}

// PathKind discriminates the two representations of a PubSub topic.
type PathKind uint8

const (
	PathLong PathKind = iota
	PathShort
)

// PublishShortcodeOffset is the high bit that partitions the 16-bit
// short-code space: 0x0000..=0x7FFF is reserved for subscribe
// aliases, 0x8000..=0xFFFF for publish aliases.
const PublishShortcodeOffset uint16 = 0x8000

// Path is either a concrete or short-coded topic path.
type Path struct {
	Kind  PathKind
	Long  string
	Short uint16
}

// Long constructs a Path carrying a concrete topic string.
func Long(path string) Path { return Path{Kind: PathLong, Long: path} }

// Short constructs a Path carrying a short-code alias.
func Short(id uint16) Path { return Path{Kind: PathShort, Short: id} }

// IsShort reports whether the path is short-coded.
func (p Path) IsShort() bool { return p.Kind == PathShort }

// IsPubShort reports whether a short-coded path falls in the publish
// half of the short-code space.
func (p Path) IsPubShort() bool { return p.Kind == PathShort && p.Short&PublishShortcodeOffset != 0 }

// IsSubShort reports whether a short-coded path falls in the subscribe
// half of the short-code space.
func (p Path) IsSubShort() bool { return p.Kind == PathShort && p.Short&PublishShortcodeOffset == 0 }

func (p Path) String() string {
	if p.IsShort() {
		return "short:" + uintToString(p.Short)
	}
	return p.Long
}

func uintToString(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ComponentKind discriminates the two kinds of client->broker message.
type ComponentKind uint8

const (
	ComponentControlKind ComponentKind = iota
	ComponentPubSubKind
)

// Component is a client->broker message: either a Control message
// (registration, short-code negotiation) or a PubSub message
// (publish, subscribe, unsubscribe).
type Component struct {
	Kind    ComponentKind
	Control ControlRequest
	PubSub  PubSubRequest
}

// ControlRequestKind discriminates the two control operations a
// client may request.
type ControlRequestKind uint8

const (
	RegisterComponentKind ControlRequestKind = iota
	RegisterShortIDKind
)

// ControlRequest is the Control variant of Component, carrying the
// control sequence counter used to match it to its response.
type ControlRequest struct {
	Seq             uint16
	Kind            ControlRequestKind
	RegisterInfo    ComponentInfo
	RegisterShortID PubSubShort
}

// ComponentInfo is the payload of a RegisterComponent request.
type ComponentInfo struct {
	Name    string
	Version Version
}

// PubSubShort is the payload of a RegisterShortId request: it aliases
// LongName to ShortID within the scope of the requesting client.
type PubSubShort struct {
	LongName string
	ShortID  uint16
}

// PubSubRequestKind discriminates the three PubSub operations.
type PubSubRequestKind uint8

const (
	PubKind PubSubRequestKind = iota
	SubKind
	UnsubKind
)

// PubSubRequest is the PubSub variant of Component.
type PubSubRequest struct {
	Path    Path
	Kind    PubSubRequestKind
	Payload []byte
}

// NewRegisterComponent builds a Control(RegisterComponent) message.
func NewRegisterComponent(seq uint16, name string, version Version) Component {
	return Component{
		Kind: ComponentControlKind,
		Control: ControlRequest{
			Seq:          seq,
			Kind:         RegisterComponentKind,
			RegisterInfo: ComponentInfo{Name: name, Version: version},
		},
	}
}

// NewRegisterShortID builds a Control(RegisterShortId) message.
func NewRegisterShortID(seq uint16, longName string, shortID uint16) Component {
	return Component{
		Kind: ComponentControlKind,
		Control: ControlRequest{
			Seq:             seq,
			Kind:            RegisterShortIDKind,
			RegisterShortID: PubSubShort{LongName: longName, ShortID: shortID},
		},
	}
}

// NewPub builds a PubSub(Pub) message.
func NewPub(path Path, payload []byte) Component {
	return Component{Kind: ComponentPubSubKind, PubSub: PubSubRequest{Path: path, Kind: PubKind, Payload: payload}}
}

// NewSub builds a PubSub(Sub) message.
func NewSub(path Path) Component {
	return Component{Kind: ComponentPubSubKind, PubSub: PubSubRequest{Path: path, Kind: SubKind}}
}

// NewUnsub builds a PubSub(Unsub) message.
func NewUnsub(path Path) Component {
	return Component{Kind: ComponentPubSubKind, PubSub: PubSubRequest{Path: path, Kind: UnsubKind}}
}

// ControlError enumerates the control-channel error responses the
// broker can send back in place of a ControlResponse.
type ControlError string

const (
	// ErrNone marks a ControlResult as successful.
	ErrNone ControlError = ""
	// ErrResetConnection tells the client to return to Disconnected
	// and re-handshake. Emitted by the caller in response to any
	// broker-side processing error.
	ErrResetConnection ControlError = "reset_connection"
	// ErrNoWildcardsInShorts is returned when a client attempts to
	// register a short code for a pattern containing '+' or '#'.
	ErrNoWildcardsInShorts ControlError = "no_wildcards_in_shorts"
)

// ControlResponseKind discriminates the two successful control
// responses.
type ControlResponseKind uint8

const (
	ComponentRegistrationKind ControlResponseKind = iota
	PubSubShortRegistrationKind
)

// ControlResponse is the successful payload of a Control response.
type ControlResponse struct {
	Kind     ControlResponseKind
	ClientID ClientID
	ShortID  uint16
}

// ControlResult is Result<ControlResponse, ControlError>.
type ControlResult struct {
	Response ControlResponse
	Err      ControlError
}

// IsOk reports whether the result is successful.
func (r ControlResult) IsOk() bool { return r.Err == ErrNone }

// ControlFrame is the Control variant of Arbitrator.
type ControlFrame struct {
	Seq    uint16
	Result ControlResult
}

// PubSubError enumerates the pub/sub-channel error responses.
type PubSubError string

const (
	// PubSubErrNone marks a PubSubResult as successful.
	PubSubErrNone PubSubError = ""
	// PubSubErrUnknownShortcode names a Pub whose short code the
	// sender never registered. Package broker does not send it: it
	// reports that case as its ErrUnknownShortcode error instead.
	PubSubErrUnknownShortcode PubSubError = "unknown_shortcode"
)

// PubSubResponseKind discriminates the two successful pub/sub
// responses.
type PubSubResponseKind uint8

const (
	SubAckKind PubSubResponseKind = iota
	SubMsgKind
)

// PubSubResponse is the successful payload of a PubSub response.
type PubSubResponse struct {
	Kind    PubSubResponseKind
	Path    Path
	Payload []byte
}

// PubSubResult is Result<PubSubResponse, PubSubError>.
type PubSubResult struct {
	Response PubSubResponse
	Err      PubSubError
}

// IsOk reports whether the result is successful.
func (r PubSubResult) IsOk() bool { return r.Err == PubSubErrNone }

// ArbitratorKind discriminates the two kinds of broker->client message.
type ArbitratorKind uint8

const (
	ArbitratorControlKind ArbitratorKind = iota
	ArbitratorPubSubKind
)

// Arbitrator is a broker->client message: either a Control response
// or a PubSub response.
type Arbitrator struct {
	Kind    ArbitratorKind
	Control ControlFrame
	PubSub  PubSubResult
}

// NewComponentRegistration builds a successful Control response
// carrying the freshly assigned ClientID.
func NewComponentRegistration(seq uint16, id ClientID) Arbitrator {
	return Arbitrator{
		Kind: ArbitratorControlKind,
		Control: ControlFrame{
			Seq: seq,
			Result: ControlResult{
				Response: ControlResponse{Kind: ComponentRegistrationKind, ClientID: id},
			},
		},
	}
}

// NewPubSubShortRegistration builds a successful Control response
// confirming a short-code registration.
func NewPubSubShortRegistration(seq uint16, shortID uint16) Arbitrator {
	return Arbitrator{
		Kind: ArbitratorControlKind,
		Control: ControlFrame{
			Seq: seq,
			Result: ControlResult{
				Response: ControlResponse{Kind: PubSubShortRegistrationKind, ShortID: shortID},
			},
		},
	}
}

// NewControlError builds an error Control response.
func NewControlError(seq uint16, err ControlError) Arbitrator {
	return Arbitrator{
		Kind:    ArbitratorControlKind,
		Control: ControlFrame{Seq: seq, Result: ControlResult{Err: err}},
	}
}

// NewSubAck builds a successful PubSub(SubAck) response, echoing path
// exactly as received.
func NewSubAck(path Path) Arbitrator {
	return Arbitrator{
		Kind: ArbitratorPubSubKind,
		PubSub: PubSubResult{
			Response: PubSubResponse{Kind: SubAckKind, Path: path},
		},
	}
}

// NewSubMsg builds a successful PubSub(SubMsg) response.
func NewSubMsg(path Path, payload []byte) Arbitrator {
	return Arbitrator{
		Kind: ArbitratorPubSubKind,
		PubSub: PubSubResult{
			Response: PubSubResponse{Kind: SubMsgKind, Path: path, Payload: payload},
		},
	}
}

// NewPubSubError builds an error PubSub response.
func NewPubSubError(err PubSubError) Arbitrator {
	return Arbitrator{Kind: ArbitratorPubSubKind, PubSub: PubSubResult{Err: err}}
}
