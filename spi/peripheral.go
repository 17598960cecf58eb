// Package spi implements the full-duplex framing engine that carries
// icd messages over a point-to-point SPI link: one ArbitratorLink on
// the broker side, one ComponentLink on the client side, each driven
// by repeated, non-blocking Poll calls against a low-level Peripheral
// and a queue.FullDuplex.
//
// Grounded on crates/spi/src/arbitrator.rs and
// crates/spi/src/component.rs: EncLogicLLArbitrator/EncLogicLLComponent
// become the Peripheral interfaces below, and EncLogicHLArbitrator/
// EncLogicHLComponent become ArbitratorLink/ComponentLink. Exchanges
// run in two stages per cycle — a 4-byte little-endian length header,
// then a body of that length — so that both sides learn how much they
// are about to exchange before committing a queue grant for it.
package spi

import "github.com/juju/errors"

// ErrTransactionBusy is returned by Peripheral.CompleteExchange while
// the hardware transfer is still clocking.
var ErrTransactionBusy = errors.New("anachro: spi exchange still in progress")

// ErrTransactionAborted is returned by Peripheral.CompleteExchange
// when the peer tore down the exchange before it finished.
var ErrTransactionAborted = errors.New("anachro: spi exchange aborted")

// ArbitratorPeripheral is the hardware boundary the arbitrator side of
// a link drives: one SPI master plus the GO side-band line it uses to
// summon a component to the bus.
//
// Grounded on EncLogicLLArbitrator. Implementations must never block.
type ArbitratorPeripheral interface {
	// Process lets the implementation service any pending hardware
	// interrupt or DMA completion bookkeeping.
	Process() error

	// IsGoActive reports whether GO is currently asserted.
	IsGoActive() (bool, error)
	// NotifyGo asserts GO, summoning the component to exchange.
	NotifyGo() error
	// ClearGo deasserts GO.
	ClearGo() error

	// PrepareExchange arms a DMA transfer: out is clocked out, and up
	// to len(in) bytes are clocked into in. Either slice may be empty.
	// Data referenced by out/in must not be touched again until
	// CompleteExchange or AbortExchange returns.
	PrepareExchange(out, in []byte) error
	// HasExchangeBegun reports whether the peer has started clocking
	// the prepared transfer.
	HasExchangeBegun() (bool, error)
	// IsExchangeActive reports whether a transfer is still clocking.
	IsExchangeActive() (bool, error)
	// CompleteExchange returns the number of bytes actually clocked
	// into the prepared `in` buffer. Returns ErrTransactionBusy while
	// still clocking, ErrTransactionAborted if the peer hung up.
	CompleteExchange() (int, error)
	// AbortExchange forces the transfer to stop, returning the number
	// of bytes exchanged so far.
	AbortExchange() (int, error)
}

// ComponentPeripheral is the hardware boundary the component side of a
// link drives: one SPI slave plus the READY side-band line it uses to
// signal it has data (or a prepared empty frame) queued.
//
// Grounded on EncLogicLLComponent. Implementations must never block.
type ComponentPeripheral interface {
	Process() error

	IsReadyActive() (bool, error)
	NotifyReady() error
	ClearReady() error
	IsGoActive() (bool, error)

	// PrepareExchange arms a DMA transfer and automatically asserts
	// READY if it is not already active.
	PrepareExchange(out, in []byte) error
	// TriggerExchange begins clocking a prepared transfer. Returns an
	// error unless both READY and GO are active.
	TriggerExchange() error
	IsExchangeActive() (bool, error)
	// CompleteExchange returns the number of bytes clocked into the
	// prepared `in` buffer. If successful and clearReady is true,
	// READY is deasserted.
	CompleteExchange(clearReady bool) (int, error)
	AbortExchange() (int, error)
}
