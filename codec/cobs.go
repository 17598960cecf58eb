package codec

import (
	"github.com/juju/errors"
)

// Stuff encodes payload with Consistent Overhead Byte Stuffing and
// appends the 0x00 frame terminator every transport frames on: the
// returned slice never contains a 0x00 byte except as its final byte.
//
// Grounded on the incremental COBS buffer in
// crates/fleet-uarte/src/cobs_buf.rs, reimplemented here as a single
// whole-buffer pass since Go transports read a frame at a time by
// splitting an accumulated buffer on 0x00 rather than byte-by-byte
// from an ISR.
func Stuff(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/254+2)
	out = append(out, 0) // placeholder for the first length code
	codeIdx := 0
	code := byte(1)

	for _, b := range payload {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	return append(out, 0)
}

// Unstuff reverses Stuff. frame must include the trailing 0x00
// terminator. Returns the original payload.
func Unstuff(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[len(frame)-1] != 0 {
		return nil, errors.Errorf("anachro: cobs frame missing 0x00 terminator")
	}
	frame = frame[:len(frame)-1]

	out := make([]byte, 0, len(frame))
	i := 0
	for i < len(frame) {
		code := frame[i]
		if code == 0 {
			return nil, errors.Errorf("anachro: unexpected 0x00 in cobs-stuffed frame at offset %d", i)
		}
		i++
		end := i + int(code) - 1
		if end > len(frame) {
			return nil, errors.Errorf("anachro: cobs code %d overruns frame of length %d", code, len(frame))
		}
		out = append(out, frame[i:end]...)
		i = end
		if code < 0xFF && i < len(frame) {
			out = append(out, 0)
		}
	}
	return out, nil
}
