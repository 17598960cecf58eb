package spi

import (
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"k8s.io/klog/v2"

	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
	"github.com/anachro-project/anachro/queue"
)

// MaxInboundBody caps the body half of an exchange the arbitrator will
// accept from a component, protecting the fixed-size inbound ring from
// a corrupted or hostile length header.
const MaxInboundBody = 4096

const (
	windowTimeoutMicros uint32 = 1_000_000
	stepTimeoutMicros   uint32 = 500_000
)

type arbState uint8

const (
	arbIdle arbState = iota
	arbHeaderStart
	arbHeaderPrepped
	arbHeaderXfer
	arbBodyPrepped
	arbBodyXfer
)

// ArbitratorLink drives the broker side of a point-to-point SPI link.
// QueryComponent kicks off one exchange cycle; Poll must be called
// repeatedly (e.g. from a tight loop or a timer ISR) to advance it.
//
// Grounded on EncLogicHLArbitrator/ArbState in crates/spi/src/arbitrator.rs.
type ArbitratorLink struct {
	peripheral ArbitratorPeripheral
	clock      Clock
	queues     *queue.FullDuplex

	state   arbState
	tWindow uint32
	tStep   uint32

	outHeader [4]byte
	inHeader  [4]byte

	outGrant *queue.ReadGrant
	inGrant  *queue.WriteGrant
}

func NewArbitratorLink(p ArbitratorPeripheral, clock Clock, queues *queue.FullDuplex) *ArbitratorLink {
	return &ArbitratorLink{peripheral: p, clock: clock, queues: queues, state: arbIdle}
}

// QueryComponent starts one exchange cycle if the link is Idle.
func (l *ArbitratorLink) QueryComponent() error {
	if l.state != arbIdle {
		return errors.New("anachro: arbitrator link busy")
	}
	now := l.clock.Micros()
	l.tWindow, l.tStep = now, now
	l.state = arbHeaderStart
	klog.V(4).Infof("anachro: arbitrator link starting query cycle at t=%d", now)
	return nil
}

// IsIdle reports whether the link is between cycles.
func (l *ArbitratorLink) IsIdle() bool { return l.state == arbIdle }

func (l *ArbitratorLink) dropGrants() {
	if l.outGrant != nil {
		l.outGrant.Release()
		l.outGrant = nil
	}
	if l.inGrant != nil {
		l.inGrant.Drop()
		l.inGrant = nil
	}
}

func (l *ArbitratorLink) abortToIdle() {
	if _, err := l.peripheral.AbortExchange(); err != nil {
		glog.V(2).Infof("anachro: arbitrator abort_exchange: %v", err)
	}
	l.peripheral.ClearGo()
	l.dropGrants()
	l.state = arbIdle
}

func (l *ArbitratorLink) timeoutViolated() bool {
	if l.state == arbIdle {
		return false
	}
	now := l.clock.Micros()
	if elapsedSince(now, l.tWindow) > windowTimeoutMicros {
		return true
	}
	switch l.state {
	case arbHeaderStart, arbHeaderPrepped, arbBodyPrepped:
		return elapsedSince(now, l.tStep) > stepTimeoutMicros
	default:
		return false
	}
}

// Poll advances the link by at most one edge and never blocks.
func (l *ArbitratorLink) Poll() error {
	if err := l.peripheral.Process(); err != nil {
		return err
	}

	if l.timeoutViolated() {
		l.abortToIdle()
		return nil
	}

	switch l.state {
	case arbIdle:
		return nil

	case arbHeaderStart:
		return l.pollHeaderStart()

	case arbHeaderPrepped, arbBodyPrepped:
		begun, err := l.peripheral.HasExchangeBegun()
		if err != nil {
			return err
		}
		if begun {
			if l.state == arbHeaderPrepped {
				l.state = arbHeaderXfer
			} else {
				l.state = arbBodyXfer
			}
		}
		return nil

	case arbHeaderXfer:
		return l.pollHeaderXfer()

	case arbBodyXfer:
		return l.pollBodyXfer()
	}
	return nil
}

func (l *ArbitratorLink) pollHeaderStart() error {
	outLen := 0
	if g, ok := l.queues.Outbound.Read(); ok {
		l.outGrant = g
		outLen = len(g.Bytes())
	}
	binary.LittleEndian.PutUint32(l.outHeader[:], uint32(outLen))
	if err := l.peripheral.PrepareExchange(l.outHeader[:], l.inHeader[:]); err != nil {
		return err
	}
	if err := l.peripheral.NotifyGo(); err != nil {
		return err
	}
	l.tStep = l.clock.Micros()
	l.state = arbHeaderPrepped
	return nil
}

func (l *ArbitratorLink) pollHeaderXfer() error {
	amt, err := l.peripheral.CompleteExchange()
	switch {
	case err == nil:
	case err == ErrTransactionBusy:
		return nil
	case err == ErrTransactionAborted:
		l.abortToIdle()
		return nil
	default:
		return err
	}
	if amt != len(l.inHeader) {
		l.abortToIdle()
		return nil
	}

	amtIn := binary.LittleEndian.Uint32(l.inHeader[:])
	if amtIn > MaxInboundBody {
		glog.Warningf("anachro: arbitrator inbound body %d exceeds cap %d, aborting", amtIn, MaxInboundBody)
		l.abortToIdle()
		return nil
	}

	if amtIn == 0 && l.outGrant == nil {
		l.peripheral.ClearGo()
		l.state = arbIdle
		return nil
	}

	var outBytes []byte
	if l.outGrant != nil {
		outBytes = l.outGrant.Bytes()
	}
	var inBytes []byte
	if amtIn > 0 {
		g, gerr := l.queues.Inbound.Grant(int(amtIn))
		if gerr != nil {
			glog.Warningf("anachro: arbitrator inbound grant failed: %v", gerr)
			l.abortToIdle()
			return nil
		}
		l.inGrant = g
		inBytes = g.Bytes()
	}

	if err := l.peripheral.PrepareExchange(outBytes, inBytes); err != nil {
		return err
	}
	l.tStep = l.clock.Micros()
	l.state = arbBodyPrepped
	return nil
}

func (l *ArbitratorLink) pollBodyXfer() error {
	amt, err := l.peripheral.CompleteExchange()
	switch {
	case err == nil:
	case err == ErrTransactionBusy:
		return nil
	case err == ErrTransactionAborted:
		l.abortToIdle()
		return nil
	default:
		return err
	}

	if l.outGrant != nil {
		l.outGrant.Release()
		l.outGrant = nil
	}
	if l.inGrant != nil {
		if cerr := l.inGrant.Commit(amt); cerr != nil {
			return cerr
		}
		l.inGrant = nil
	}
	l.peripheral.ClearGo()
	l.state = arbIdle
	return nil
}

// Recv decodes the next complete frame the component sent, if any.
func (l *ArbitratorLink) Recv(c codec.MessageCodec) (*icd.Component, error) {
	g, ok := l.queues.Inbound.Read()
	if !ok {
		return nil, nil
	}
	defer g.Release()
	msg, err := c.DecodeComponent(g.Bytes())
	if err != nil {
		return nil, errors.Annotate(err, "anachro: arbitrator link decode")
	}
	return &msg, nil
}

// Send enqueues msg for delivery on the next cycle's header/body pair.
func (l *ArbitratorLink) Send(c codec.MessageCodec, msg icd.Arbitrator) error {
	frame, err := c.EncodeArbitrator(msg)
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
