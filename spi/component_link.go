package spi

import (
	"encoding/binary"

	"k8s.io/klog/v2"

	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
	"github.com/anachro-project/anachro/queue"
)

type compState uint8

const (
	compIdle compState = iota
	compDataHeader
	compEmptyHeader
	compDataBody
	compEmptyBody
)

// ComponentLink drives the client side of a point-to-point SPI link.
// It implements client.ClientIO directly, so a Client can be driven
// straight off a link without an adapter.
//
// Grounded on EncLogicHLComponent/SendingState in
// crates/spi/src/component.rs. There is no window/step timeout on
// this side — GO falling mid-exchange is the arbitrator's only hangup
// signal, and the arbitrator owns pacing.
type ComponentLink struct {
	peripheral ComponentPeripheral
	queues     *queue.FullDuplex

	state     compState
	triggered bool

	outHeader [4]byte
	headerIn  [4]byte

	outGrant *queue.ReadGrant
	inGrant  *queue.WriteGrant
}

func NewComponentLink(p ComponentPeripheral, queues *queue.FullDuplex) *ComponentLink {
	return &ComponentLink{peripheral: p, queues: queues, state: compIdle}
}

func (l *ComponentLink) dropGrants() {
	if l.outGrant != nil {
		l.outGrant.Release()
		l.outGrant = nil
	}
	if l.inGrant != nil {
		l.inGrant.Drop()
		l.inGrant = nil
	}
	l.triggered = false
}

func (l *ComponentLink) abort() {
	klog.V(4).Infof("anachro: component link abort from state %d", l.state)
	l.peripheral.AbortExchange()
	l.dropGrants()
	l.state = compIdle
}

// Poll advances the link by at most one edge and never blocks.
func (l *ComponentLink) Poll() error {
	if err := l.peripheral.Process(); err != nil {
		return err
	}

	active, err := l.peripheral.IsExchangeActive()
	if err != nil {
		return nil
	}
	goActive, err := l.peripheral.IsGoActive()
	if err != nil {
		return nil
	}

	if l.state == compIdle {
		if active || l.triggered {
			// Peer is mid-exchange while we believe we're Idle: resync.
			l.abort()
			return nil
		}
		if g, ok := l.queues.Outbound.Read(); ok {
			l.outGrant = g
			if err := l.setupData(g.Bytes()); err != nil {
				return err
			}
			l.state = compDataHeader
		} else {
			if err := l.setupEmpty(); err != nil {
				return err
			}
			l.state = compEmptyHeader
		}
		return nil
	}

	if active && !goActive {
		// GO fell during an active exchange: the arbitrator hung up.
		l.abort()
		return nil
	}

	if !active && !l.triggered {
		if !goActive {
			return nil // prepared and READY; waiting for the arbitrator's GO
		}
		if err := l.peripheral.TriggerExchange(); err != nil {
			return err
		}
		l.triggered = true
		return nil
	}

	if !active || !l.triggered {
		// (active && !triggered) or (!active && triggered) should not
		// happen under normal sequencing; resync.
		l.abort()
		return nil
	}

	bodyPhase := l.state == compDataBody || l.state == compEmptyBody
	amt, cerr := l.peripheral.CompleteExchange(bodyPhase)
	if cerr != nil {
		if cerr == ErrTransactionBusy {
			return nil
		}
		l.abort()
		return nil
	}
	l.triggered = false

	switch l.state {
	case compDataHeader:
		next, err := l.completeDataHeader()
		if err != nil {
			return err
		}
		l.state = next

	case compEmptyHeader:
		next, err := l.completeEmptyHeader()
		if err != nil {
			return err
		}
		l.state = next

	case compDataBody, compEmptyBody:
		if l.outGrant != nil {
			l.outGrant.Release()
			l.outGrant = nil
		}
		if l.inGrant != nil {
			if err := l.inGrant.Commit(amt); err != nil {
				return err
			}
			l.inGrant = nil
		}
		l.state = compIdle
	}
	return nil
}

func (l *ComponentLink) setupData(out []byte) error {
	binary.LittleEndian.PutUint32(l.outHeader[:], uint32(len(out)))
	return l.peripheral.PrepareExchange(l.outHeader[:], l.headerIn[:])
}

func (l *ComponentLink) setupEmpty() error {
	binary.LittleEndian.PutUint32(l.outHeader[:], 0)
	return l.peripheral.PrepareExchange(l.outHeader[:], l.headerIn[:])
}

func (l *ComponentLink) completeDataHeader() (compState, error) {
	inBytes, err := l.grantInbound()
	if err != nil {
		return compIdle, err
	}
	if err := l.peripheral.PrepareExchange(l.outGrant.Bytes(), inBytes); err != nil {
		return compIdle, err
	}
	return compDataBody, nil
}

func (l *ComponentLink) completeEmptyHeader() (compState, error) {
	if binary.LittleEndian.Uint32(l.headerIn[:]) == 0 {
		// Our own declared length was 0 too (EmptyHeader implies no
		// outbound frame): both lengths are 0, so the body exchange
		// never happens and the cycle is done.
		l.peripheral.ClearReady()
		return compIdle, nil
	}
	inBytes, err := l.grantInbound()
	if err != nil {
		return compIdle, err
	}
	if err := l.peripheral.PrepareExchange(nil, inBytes); err != nil {
		return compIdle, err
	}
	return compEmptyBody, nil
}

func (l *ComponentLink) grantInbound() ([]byte, error) {
	amtIn := binary.LittleEndian.Uint32(l.headerIn[:])
	if amtIn == 0 {
		return nil, nil
	}
	g, err := l.queues.Inbound.Grant(int(amtIn))
	if err != nil {
		return nil, err
	}
	l.inGrant = g
	return g.Bytes(), nil
}

// Recv decodes the next complete frame the arbitrator sent, if any.
// Satisfies client.ClientIO.
func (l *ComponentLink) Recv() (*icd.Arbitrator, error) {
	return l.recv(codec.JSON())
}

// RecvWith decodes using an explicit codec, for callers that configure
// a denser wire format than the JSON default.
func (l *ComponentLink) RecvWith(c codec.MessageCodec) (*icd.Arbitrator, error) {
	return l.recv(c)
}

func (l *ComponentLink) recv(c codec.MessageCodec) (*icd.Arbitrator, error) {
	g, ok := l.queues.Inbound.Read()
	if !ok {
		return nil, nil
	}
	defer g.Release()
	msg, err := c.DecodeArbitrator(g.Bytes())
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Send enqueues msg for delivery on the next cycle. Satisfies
// client.ClientIO.
func (l *ComponentLink) Send(msg icd.Component) error {
	return l.SendWith(codec.JSON(), msg)
}

// SendWith encodes using an explicit codec.
func (l *ComponentLink) SendWith(c codec.MessageCodec, msg icd.Component) error {
	frame, err := c.EncodeComponent(msg)
	if err != nil {
		return err
	}
	g, err := l.queues.Outbound.Grant(len(frame))
	if err != nil {
		return err
	}
	copy(g.Bytes(), frame)
	return g.Commit(len(frame))
}
