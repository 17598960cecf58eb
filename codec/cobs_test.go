package codec

import (
	"bytes"
	"testing"
)

func TestStuffUnstuffRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{1, 2, 3},
		{0, 0, 0},
		{0x11, 0x22, 0x00, 0x00, 0x33},
		bytes.Repeat([]byte{0xAB}, 512),
		bytes.Repeat([]byte{0x00}, 300),
	}

	for _, payload := range cases {
		stuffed := Stuff(payload)
		if len(stuffed) == 0 || stuffed[len(stuffed)-1] != 0 {
			t.Fatalf("Stuff(%v) did not end in 0x00 terminator: %v", payload, stuffed)
		}
		for _, b := range stuffed[:len(stuffed)-1] {
			if b == 0 {
				t.Fatalf("Stuff(%v) produced interior 0x00: %v", payload, stuffed)
			}
		}

		got, err := Unstuff(stuffed)
		if err != nil {
			t.Fatalf("Unstuff(Stuff(%v)) returned error: %v", payload, err)
		}
		if !bytes.Equal(got, payload) && !(len(got) == 0 && len(payload) == 0) {
			t.Errorf("round trip mismatch: got %v, want %v", got, payload)
		}
	}
}

func TestUnstuffRejectsMissingTerminator(t *testing.T) {
	if _, err := Unstuff([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for frame without terminator")
	}
}

func TestUnstuffRejectsTruncatedCode(t *testing.T) {
	if _, err := Unstuff([]byte{5, 1, 2, 0}); err == nil {
		t.Error("expected error for a length code overrunning the frame")
	}
}
