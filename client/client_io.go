package client

import "github.com/anachro-project/anachro/icd"

// ClientIO is the transport-agnostic boundary a Client drives: it
// never blocks, reporting no data rather than waiting. Implemented by
// the SPI ComponentLink and by COBS-framed UART/TCP adapters in
// package transport.
//
// Grounded on the ClientIo trait in crates/client/src/client_io.rs.
type ClientIO interface {
	// Recv returns the next decoded Arbitrator message addressed to
	// this client, or (nil, nil) if none is available yet.
	Recv() (*icd.Arbitrator, error)
	// Send enqueues msg for transmission to the broker.
	Send(msg icd.Component) error
}
