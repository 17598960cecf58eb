// Package broker implements the routing engine: per-client
// subscription and short-code state, wildcard topic matching, and the
// publish fan-out algorithm that turns one Pub into zero or more
// SubMsg responses.
//
// Grounded on Broker/Client/ClientState/matches in
// anachro-server/src/lib.rs, extended with the bounded-capacity shape
// (Config, ResourcesExhausted) of crates/server/src/lib.rs, and on
// the teacher's style of a long-lived struct guarded by its own
// methods (mgrpc's Codec implementations) rather than free functions.
package broker

import (
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/anachro-project/anachro/icd"
	"github.com/anachro-project/anachro/topic"
)

// Config bounds the broker's capacity. Reference values mirror the
// fixed heapless::Vec<_, consts::U8> limits in crates/server/src/lib.rs.
type Config struct {
	MaxClients             int
	MaxSubsPerClient       int
	MaxShortcodesPerClient int
}

// DefaultConfig returns the reference 8/8/8 capacity.
func DefaultConfig() Config {
	return Config{MaxClients: 8, MaxSubsPerClient: 8, MaxShortcodesPerClient: 8}
}

var (
	// ErrAlreadyRegistered is returned by RegisterClient for a known id.
	ErrAlreadyRegistered = errors.New("anachro: client already registered")
	// ErrUnknownClient is returned by any per-client operation on an
	// id the broker has no entry for.
	ErrUnknownClient = errors.New("anachro: unknown client")
	// ErrResourcesExhausted is returned when a capacity bound in Config
	// would be exceeded.
	ErrResourcesExhausted = errors.New("anachro: resources exhausted")
	// ErrUnknownShortcode is returned when a Pub names a short code the
	// sender never registered.
	ErrUnknownShortcode = errors.New("anachro: unknown shortcode")
)

type clientState uint8

const (
	sessionEstablished clientState = iota
	connected
)

type shortcut struct {
	long  string
	short uint16
}

type client struct {
	id            icd.ClientID
	state         clientState
	name          string
	version       icd.Version
	subscriptions []string
	shortcuts     []shortcut
}

func (c *client) resolveIncoming(p icd.Path) (string, bool) {
	if !p.IsShort() {
		return p.Long, true
	}
	for _, sc := range c.shortcuts {
		if sc.short == p.Short {
			return sc.long, true
		}
	}
	return "", false
}

// Broker is the central router. The zero value is not usable; use
// New.
type Broker struct {
	mu      sync.Mutex
	cfg     Config
	clients []*client
}

// New constructs an empty Broker bounded by cfg.
func New(cfg Config) *Broker {
	return &Broker{cfg: cfg}
}

func (b *Broker) clientByID(id icd.ClientID) *client {
	for _, c := range b.clients {
		if c.id == id {
			return c
		}
	}
	return nil
}

// RegisterClient inserts a new client entry in SessionEstablished.
func (b *Broker) RegisterClient(id icd.ClientID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.clientByID(id) != nil {
		return ErrAlreadyRegistered
	}
	if len(b.clients) >= b.cfg.MaxClients {
		return ErrResourcesExhausted
	}
	b.clients = append(b.clients, &client{id: id, state: sessionEstablished})
	return nil
}

// RemoveClient destroys the entry for id. Idempotent: removing an
// absent id is not an error.
func (b *Broker) RemoveClient(id icd.ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, c := range b.clients {
		if c.id == id {
			b.clients = append(b.clients[:i], b.clients[i+1:]...)
			return
		}
	}
}

// ResetClient reverts id to SessionEstablished, dropping its
// subscriptions and short-codes, without removing the entry.
func (b *Broker) ResetClient(id icd.ClientID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.clientByID(id)
	if c == nil {
		return ErrUnknownClient
	}
	c.state = sessionEstablished
	c.subscriptions = nil
	c.shortcuts = nil
	return nil
}

// Outbound is a single addressed response frame.
type Outbound struct {
	Dest icd.ClientID
	Msg  icd.Arbitrator
}

// Inbound is a single addressed request frame, as pulled from a
// transport's queue.
type Inbound struct {
	Source icd.ClientID
	Msg    icd.Component
}

// ProcessMessage consumes msg from source and returns zero or more
// addressed responses. Any returned error means the caller should
// push icd.NewControlError(0, icd.ErrResetConnection) to source and
// consider resetting or removing it.
func (b *Broker) ProcessMessage(source icd.ClientID, msg icd.Component) ([]Outbound, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Kind {
	case icd.ComponentControlKind:
		return b.processControl(source, msg.Control)
	case icd.ComponentPubSubKind:
		switch msg.PubSub.Kind {
		case icd.PubKind:
			return b.processPublish(source, msg.PubSub.Path, msg.PubSub.Payload)
		case icd.SubKind:
			out, err := b.processSubscribe(source, msg.PubSub.Path)
			if err != nil {
				return nil, err
			}
			return []Outbound{out}, nil
		case icd.UnsubKind:
			b.processUnsub(source, msg.PubSub.Path)
			return nil, nil
		}
	}
	return nil, errors.Errorf("anachro: malformed component message")
}

func (b *Broker) processControl(source icd.ClientID, req icd.ControlRequest) ([]Outbound, error) {
	c := b.clientByID(source)
	if c == nil {
		return nil, ErrUnknownClient
	}

	switch req.Kind {
	case icd.RegisterComponentKind:
		c.state = connected
		c.name = req.RegisterInfo.Name
		c.version = req.RegisterInfo.Version
		c.subscriptions = nil
		c.shortcuts = nil
		glog.V(1).Infof("anachro: %s registered as %q %+v", source, c.name, c.version)
		return []Outbound{{Dest: source, Msg: icd.NewComponentRegistration(req.Seq, source)}}, nil

	case icd.RegisterShortIDKind:
		if c.state != connected {
			return nil, errors.Errorf("anachro: client %s not connected", source)
		}
		longName := req.RegisterShortID.LongName
		if topic.HasWildcard(longName) {
			return []Outbound{{Dest: source, Msg: icd.NewControlError(req.Seq, icd.ErrNoWildcardsInShorts)}}, nil
		}
		shortID := req.RegisterShortID.ShortID
		found := false
		for _, sc := range c.shortcuts {
			if sc.long == longName && sc.short == shortID {
				found = true
				break
			}
		}
		if !found {
			if len(c.shortcuts) >= b.cfg.MaxShortcodesPerClient {
				return nil, ErrResourcesExhausted
			}
			c.shortcuts = append(c.shortcuts, shortcut{long: longName, short: shortID})
		}
		return []Outbound{{Dest: source, Msg: icd.NewPubSubShortRegistration(req.Seq, shortID)}}, nil
	}
	return nil, errors.Errorf("anachro: malformed control request")
}

func (b *Broker) processSubscribe(source icd.ClientID, path icd.Path) (Outbound, error) {
	c := b.clientByID(source)
	if c == nil {
		return Outbound{}, ErrUnknownClient
	}
	if c.state != connected {
		return Outbound{}, errors.Errorf("anachro: client %s not connected", source)
	}

	longPath, ok := c.resolveIncoming(path)
	if !ok {
		return Outbound{}, ErrUnknownShortcode
	}

	dup := false
	for _, s := range c.subscriptions {
		if s == longPath {
			dup = true
			break
		}
	}
	if !dup {
		if len(c.subscriptions) >= b.cfg.MaxSubsPerClient {
			return Outbound{}, ErrResourcesExhausted
		}
		c.subscriptions = append(c.subscriptions, longPath)
	}

	return Outbound{Dest: source, Msg: icd.NewSubAck(path)}, nil
}

// processUnsub removes the first matching subscription entry. Silent
// if absent, and never produces a response, exactly as specified.
func (b *Broker) processUnsub(source icd.ClientID, path icd.Path) {
	c := b.clientByID(source)
	if c == nil || c.state != connected {
		return
	}
	longPath, ok := c.resolveIncoming(path)
	if !ok {
		return
	}
	for i, s := range c.subscriptions {
		if s == longPath {
			c.subscriptions = append(c.subscriptions[:i], c.subscriptions[i+1:]...)
			return
		}
	}
}

func (b *Broker) processPublish(source icd.ClientID, path icd.Path, payload []byte) ([]Outbound, error) {
	src := b.clientByID(source)
	if src == nil || src.state != connected {
		return nil, ErrUnknownClient
	}

	longPath, ok := src.resolveIncoming(path)
	if !ok {
		return nil, ErrUnknownShortcode
	}

	var out []Outbound
	for _, dst := range b.clients {
		if dst.state != connected || dst.id == source {
			continue
		}

		matched := false
		for _, pattern := range dst.subscriptions {
			if topic.Match(pattern, longPath) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		destPath := icd.Long(longPath)
		for _, sc := range dst.shortcuts {
			if sc.long == longPath {
				destPath = icd.Short(sc.short)
				break
			}
		}
		out = append(out, Outbound{Dest: dst.id, Msg: icd.NewSubMsg(destPath, payload)})
	}
	return out, nil
}
