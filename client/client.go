// Package client implements the component-side connection state
// machine: registration, per-topic subscription, per-topic
// short-code negotiation, and steady-state messaging, with retry,
// timeout, and reset semantics.
//
// Grounded on crates/client/src/client.rs. ProcessOne is the single
// driver call: one invocation advances the machine by exactly one
// event, or ticks its timeout counter, and never blocks.
package client

import (
	"github.com/juju/errors"

	"github.com/anachro-project/anachro/icd"
)

type state uint8

const (
	disconnected state = iota
	pendingRegistration
	registered
	subscribing
	subscribed
	shortCodingSub
	shortCodingPub
	active
)

var (
	// ErrNotActive is returned by Publish before the handshake has
	// completed.
	ErrNotActive = errors.New("anachro: client not active")
	// ErrUnexpectedMessage is returned for a seq mismatch or a
	// response that doesn't belong in the current state.
	ErrUnexpectedMessage = errors.New("anachro: unexpected message")
)

// RecvMsg is a published message delivered to an Active client, with
// its path already resolved to the concrete long-form topic.
type RecvMsg struct {
	Path    string
	Payload []byte
}

// Client drives one component through the connection lifecycle. The
// zero value is not usable; use New.
type Client struct {
	state state

	name          string
	version       icd.Version
	subPaths      []string
	pubShortPaths []string
	timeoutTicks  *uint8

	ctr  uint16
	id   icd.ClientID
	tick uint8
	idx  int
}

// New constructs a Client in the Disconnected state. subPaths and
// pubShortPaths are fixed for the client's lifetime. A nil
// timeoutTicks disables automatic retry; the caller must call Reset
// explicitly if a message is lost.
func New(name string, version icd.Version, ctrInit uint16, subPaths, pubShortPaths []string, timeoutTicks *uint8) *Client {
	return &Client{
		name:          name,
		version:       version,
		ctr:           ctrInit,
		subPaths:      subPaths,
		pubShortPaths: pubShortPaths,
		timeoutTicks:  timeoutTicks,
		state:         disconnected,
	}
}

// Reset returns the client to Disconnected, dropping any in-flight
// registration or subscription progress.
func (c *Client) Reset() {
	c.state = disconnected
	c.tick = 0
	c.idx = 0
}

// IsActive reports whether the client has completed the handshake.
func (c *Client) IsActive() bool { return c.state == active }

// ID returns the broker-assigned identity, if the client is Active.
func (c *Client) ID() (icd.ClientID, bool) {
	if c.state != active {
		return icd.NilClientID, false
	}
	return c.id, true
}

func (c *Client) timeoutViolated() bool {
	return c.timeoutTicks != nil && *c.timeoutTicks <= c.tick
}

// Publish sends a Pub message. Only legal once Active. If path
// exactly matches one of the client's configured pub-short paths, the
// wire path is sent as its registered short code.
func (c *Client) Publish(io ClientIO, path string, payload []byte) error {
	if c.state != active {
		return ErrNotActive
	}

	wirePath := icd.Long(path)
	for i, p := range c.pubShortPaths {
		if p == path {
			wirePath = icd.Short(uint16(i) | icd.PublishShortcodeOffset)
			break
		}
	}
	return io.Send(icd.NewPub(wirePath, payload))
}

// ProcessOne advances the state machine by exactly one event or ticks
// its timeout counter. It never blocks.
func (c *Client) ProcessOne(io ClientIO) (*RecvMsg, error) {
	switch c.state {
	case disconnected:
		return nil, c.onDisconnected(io)

	case pendingRegistration:
		err := c.onPendingRegistration(io)
		if c.timeoutViolated() {
			c.state = disconnected
			c.tick = 0
		}
		return nil, err

	case registered:
		return nil, c.onRegistered(io)

	case subscribing:
		err := c.onSubscribing(io)
		if c.timeoutViolated() && c.state == subscribing {
			if sendErr := io.Send(icd.NewSub(icd.Long(c.subPaths[c.idx]))); sendErr != nil {
				return nil, sendErr
			}
			c.tick = 0
		}
		return nil, err

	case subscribed:
		return nil, c.onSubscribed(io)

	case shortCodingSub:
		err := c.onShortCodingSub(io)
		if c.timeoutViolated() && c.state == shortCodingSub {
			c.ctr++
			if sendErr := io.Send(icd.NewRegisterShortID(c.ctr, c.subPaths[c.idx], uint16(c.idx))); sendErr != nil {
				return nil, sendErr
			}
			c.tick = 0
		}
		return nil, err

	case shortCodingPub:
		err := c.onShortCodingPub(io)
		if c.timeoutViolated() && c.state == shortCodingPub {
			c.ctr++
			next := uint16(c.idx) | icd.PublishShortcodeOffset
			if sendErr := io.Send(icd.NewRegisterShortID(c.ctr, c.pubShortPaths[c.idx], next)); sendErr != nil {
				return nil, sendErr
			}
			c.tick = 0
		}
		return nil, err

	case active:
		return c.onActive(io)
	}
	return nil, errors.Errorf("anachro: client in invalid state %d", c.state)
}

func (c *Client) onDisconnected(io ClientIO) error {
	c.ctr++
	if err := io.Send(icd.NewRegisterComponent(c.ctr, c.name, c.version)); err != nil {
		return err
	}
	c.state = pendingRegistration
	c.tick = 0
	return nil
}

func (c *Client) onPendingRegistration(io ClientIO) error {
	msg, err := io.Recv()
	if err != nil {
		return err
	}
	if msg == nil {
		c.tick++
		return nil
	}
	// Resolves the broker's explicit reset error immediately rather
	// than only detecting it indirectly via the next seq mismatch.
	if resetRequested(msg) {
		c.Reset()
		return nil
	}
	if msg.Kind != icd.ArbitratorControlKind {
		c.tick++
		return nil
	}

	ctrl := msg.Control
	if ctrl.Seq != c.ctr {
		c.tick++
		return ErrUnexpectedMessage
	}
	if ctrl.Result.IsOk() && ctrl.Result.Response.Kind == icd.ComponentRegistrationKind {
		c.id = ctrl.Result.Response.ClientID
		c.state = registered
		c.tick = 0
		return nil
	}

	c.tick++
	return ErrUnexpectedMessage
}

func (c *Client) onRegistered(io ClientIO) error {
	if len(c.subPaths) == 0 {
		c.state = subscribed
		c.tick = 0
		return nil
	}
	if err := io.Send(icd.NewSub(icd.Long(c.subPaths[0]))); err != nil {
		return err
	}
	c.idx = 0
	c.state = subscribing
	c.tick = 0
	return nil
}

func (c *Client) onSubscribing(io ClientIO) error {
	msg, err := io.Recv()
	if err != nil {
		return err
	}
	if msg == nil {
		c.tick++
		return nil
	}
	if resetRequested(msg) {
		c.Reset()
		return nil
	}

	if msg.Kind != icd.ArbitratorPubSubKind || !msg.PubSub.IsOk() || msg.PubSub.Response.Kind != icd.SubAckKind {
		c.tick++
		return nil
	}
	ack := msg.PubSub.Response.Path
	if ack.IsShort() || ack.Long != c.subPaths[c.idx] {
		c.tick++
		return nil
	}

	c.idx++
	if c.idx >= len(c.subPaths) {
		c.state = subscribed
		c.tick = 0
		return nil
	}
	if err := io.Send(icd.NewSub(icd.Long(c.subPaths[c.idx]))); err != nil {
		return err
	}
	c.tick = 0
	return nil
}

func (c *Client) onSubscribed(io ClientIO) error {
	switch {
	case len(c.subPaths) == 0 && len(c.pubShortPaths) == 0:
		c.state = active
		c.tick = 0

	case len(c.subPaths) == 0:
		c.ctr++
		if err := io.Send(icd.NewRegisterShortID(c.ctr, c.pubShortPaths[0], icd.PublishShortcodeOffset)); err != nil {
			return err
		}
		c.idx = 0
		c.state = shortCodingPub
		c.tick = 0

	default:
		c.ctr++
		if err := io.Send(icd.NewRegisterShortID(c.ctr, c.subPaths[0], 0x0000)); err != nil {
			return err
		}
		c.idx = 0
		c.state = shortCodingSub
		c.tick = 0
	}
	return nil
}

func (c *Client) onShortCodingSub(io ClientIO) error {
	msg, err := io.Recv()
	if err != nil {
		return err
	}
	if msg == nil {
		c.tick++
		return nil
	}
	if resetRequested(msg) {
		c.Reset()
		return nil
	}

	reg, ok := registrationAck(msg)
	if !ok || reg.Seq != c.ctr || reg.Result.Response.ShortID != uint16(c.idx) {
		c.tick++
		return nil
	}

	c.idx++
	if c.idx >= len(c.subPaths) {
		if len(c.pubShortPaths) == 0 {
			c.state = active
			c.tick = 0
			return nil
		}
		c.ctr++
		if err := io.Send(icd.NewRegisterShortID(c.ctr, c.pubShortPaths[0], icd.PublishShortcodeOffset)); err != nil {
			return err
		}
		c.idx = 0
		c.state = shortCodingPub
		c.tick = 0
		return nil
	}

	c.ctr++
	if err := io.Send(icd.NewRegisterShortID(c.ctr, c.subPaths[c.idx], uint16(c.idx))); err != nil {
		return err
	}
	c.tick = 0
	return nil
}

func (c *Client) onShortCodingPub(io ClientIO) error {
	msg, err := io.Recv()
	if err != nil {
		return err
	}
	if msg == nil {
		c.tick++
		return nil
	}
	if resetRequested(msg) {
		c.Reset()
		return nil
	}

	reg, ok := registrationAck(msg)
	expected := uint16(c.idx) | icd.PublishShortcodeOffset
	if !ok || reg.Seq != c.ctr || reg.Result.Response.ShortID != expected {
		c.tick++
		return nil
	}

	c.idx++
	if c.idx >= len(c.pubShortPaths) {
		c.state = active
		c.tick = 0
		return nil
	}

	c.ctr++
	next := uint16(c.idx) | icd.PublishShortcodeOffset
	if err := io.Send(icd.NewRegisterShortID(c.ctr, c.pubShortPaths[c.idx], next)); err != nil {
		return err
	}
	c.tick = 0
	return nil
}

func (c *Client) onActive(io ClientIO) (*RecvMsg, error) {
	msg, err := io.Recv()
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	if resetRequested(msg) {
		c.Reset()
		return nil, nil
	}

	if msg.Kind != icd.ArbitratorPubSubKind || !msg.PubSub.IsOk() || msg.PubSub.Response.Kind != icd.SubMsgKind {
		// Other message kinds are silently dropped while Active.
		return nil, nil
	}

	resp := msg.PubSub.Response
	path := resp.Path.Long
	if resp.Path.IsShort() {
		idx := int(resp.Path.Short)
		if idx >= len(c.subPaths) {
			return nil, ErrUnexpectedMessage
		}
		path = c.subPaths[idx]
	}
	return &RecvMsg{Path: path, Payload: resp.Payload}, nil
}

// resetRequested reports whether msg is the broker's explicit
// Control(Err(ResetConnection)) frame, checked ahead of every other
// per-state response match.
func resetRequested(msg *icd.Arbitrator) bool {
	return msg.Kind == icd.ArbitratorControlKind && msg.Control.Result.Err == icd.ErrResetConnection
}

// registrationAck extracts a successful PubSubShortRegistration
// response, if msg carries one.
func registrationAck(msg *icd.Arbitrator) (icd.ControlFrame, bool) {
	if msg.Kind != icd.ArbitratorControlKind {
		return icd.ControlFrame{}, false
	}
	ctrl := msg.Control
	if !ctrl.Result.IsOk() || ctrl.Result.Response.Kind != icd.PubSubShortRegistrationKind {
		return icd.ControlFrame{}, false
	}
	return icd.ControlFrame{Seq: ctrl.Seq, Result: ctrl.Result}, true
}
