package spi

import "github.com/juju/errors"

// loopbackBus is an in-process stand-in for a physical SPI bus plus
// its GO/READY side-band wires, letting an ArbitratorLink and a
// ComponentLink be driven against each other within a single test.
//
// Grounded on emb-tests/spi-loopback's intent (two sides of one wire),
// reimplemented synchronously: TriggerExchange performs the byte copy
// immediately rather than simulating clocked DMA latency, since the
// link state machines only observe HasExchangeBegun/IsExchangeActive/
// CompleteExchange, not wall-clock timing.
type loopbackBus struct {
	goActive    bool
	readyActive bool

	arbOut, arbIn   []byte
	compOut, compIn []byte
	arbPrepared     bool
	compPrepared    bool

	active       bool
	amtToArb     int
	amtToComp    int
	arbDone      bool
	compDone     bool

	arbPrepareCount   int
	arbCompleteCount  int
	compPrepareCount  int
	compCompleteCount int
}

func (b *loopbackBus) settle() {
	if b.arbDone && b.compDone {
		b.active = false
		b.arbPrepared = false
		b.compPrepared = false
		b.arbDone = false
		b.compDone = false
	}
}

type loopbackArbitrator struct{ bus *loopbackBus }

func (a *loopbackArbitrator) Process() error { return nil }

func (a *loopbackArbitrator) IsGoActive() (bool, error) { return a.bus.goActive, nil }
func (a *loopbackArbitrator) NotifyGo() error           { a.bus.goActive = true; return nil }
func (a *loopbackArbitrator) ClearGo() error            { a.bus.goActive = false; return nil }

func (a *loopbackArbitrator) PrepareExchange(out, in []byte) error {
	a.bus.arbOut, a.bus.arbIn = out, in
	a.bus.arbPrepared = true
	a.bus.arbPrepareCount++
	return nil
}

func (a *loopbackArbitrator) HasExchangeBegun() (bool, error) { return a.bus.active, nil }
func (a *loopbackArbitrator) IsExchangeActive() (bool, error) { return a.bus.active, nil }

func (a *loopbackArbitrator) CompleteExchange() (int, error) {
	if !a.bus.active {
		return 0, ErrTransactionBusy
	}
	a.bus.arbDone = true
	a.bus.arbCompleteCount++
	amt := a.bus.amtToArb
	a.bus.settle()
	return amt, nil
}

func (a *loopbackArbitrator) AbortExchange() (int, error) {
	a.bus.active, a.bus.arbPrepared, a.bus.compPrepared = false, false, false
	return 0, nil
}

type loopbackComponent struct{ bus *loopbackBus }

func (c *loopbackComponent) Process() error { return nil }

func (c *loopbackComponent) IsReadyActive() (bool, error) { return c.bus.readyActive, nil }
func (c *loopbackComponent) NotifyReady() error           { c.bus.readyActive = true; return nil }
func (c *loopbackComponent) ClearReady() error            { c.bus.readyActive = false; return nil }
func (c *loopbackComponent) IsGoActive() (bool, error)    { return c.bus.goActive, nil }

func (c *loopbackComponent) PrepareExchange(out, in []byte) error {
	c.bus.compOut, c.bus.compIn = out, in
	c.bus.compPrepared = true
	c.bus.readyActive = true
	c.bus.compPrepareCount++
	return nil
}

// TriggerExchange requires only READY+GO, matching the real hardware
// trait's contract: GO/READY being simultaneously active already
// implies both sides called PrepareExchange for the current stage,
// since each asserts its own signal immediately after preparing and
// only drops it at the very end of a full header+body cycle.
func (c *loopbackComponent) TriggerExchange() error {
	if !c.bus.readyActive || !c.bus.goActive {
		return errors.New("anachro: trigger without ready+go")
	}
	c.bus.amtToComp = copy(c.bus.compIn, c.bus.arbOut)
	c.bus.amtToArb = copy(c.bus.arbIn, c.bus.compOut)
	c.bus.active = true
	return nil
}

func (c *loopbackComponent) IsExchangeActive() (bool, error) { return c.bus.active, nil }

func (c *loopbackComponent) CompleteExchange(clearReady bool) (int, error) {
	if !c.bus.active {
		return 0, ErrTransactionBusy
	}
	c.bus.compDone = true
	c.bus.compCompleteCount++
	amt := c.bus.amtToComp
	if clearReady {
		c.bus.readyActive = false
	}
	c.bus.settle()
	return amt, nil
}

func (c *loopbackComponent) AbortExchange() (int, error) {
	c.bus.active, c.bus.arbPrepared, c.bus.compPrepared = false, false, false
	return 0, nil
}
