// Package codec turns wire frames into structured
// icd.Component/icd.Arbitrator values and back. The concrete
// byte-level serialization format is deliberately pluggable — this
// package fixes only the adapter interface, the way
// common/mgrpc/codec.Codec is the one interface every transport codec
// satisfies, and supplies a default encoding/json implementation
// suitable for the TCP/UART CLI demos and for tests. A production
// deployment is expected to supply a denser binary MessageCodec.
package codec

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/anachro-project/anachro/icd"
)

// MessageCodec turns a single already-framed (COBS-stuffed, 0x00
// terminated) byte slice into a structured message and back. Every
// transport in package transport shares one MessageCodec.
type MessageCodec interface {
	EncodeComponent(msg icd.Component) ([]byte, error)
	DecodeComponent(frame []byte) (icd.Component, error)
	EncodeArbitrator(msg icd.Arbitrator) ([]byte, error)
	DecodeArbitrator(frame []byte) (icd.Arbitrator, error)
}

type jsonCodec struct{}

// JSON returns the default MessageCodec, which serializes messages as
// JSON before COBS-stuffing them.
func JSON() MessageCodec { return jsonCodec{} }

func (jsonCodec) EncodeComponent(msg icd.Component) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Annotate(err, "anachro: encode component")
	}
	return Stuff(b), nil
}

func (jsonCodec) DecodeComponent(frame []byte) (icd.Component, error) {
	var msg icd.Component
	payload, err := Unstuff(frame)
	if err != nil {
		return msg, errors.Annotate(err, "anachro: decode component")
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, errors.Annotate(err, "anachro: decode component")
	}
	return msg, nil
}

func (jsonCodec) EncodeArbitrator(msg icd.Arbitrator) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Annotate(err, "anachro: encode arbitrator")
	}
	return Stuff(b), nil
}

func (jsonCodec) DecodeArbitrator(frame []byte) (icd.Arbitrator, error) {
	var msg icd.Arbitrator
	payload, err := Unstuff(frame)
	if err != nil {
		return msg, errors.Annotate(err, "anachro: decode arbitrator")
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, errors.Annotate(err, "anachro: decode arbitrator")
	}
	return msg, nil
}
