package icd

import (
	"testing"

	"github.com/google/uuid"
)

func TestPathShortcodePartition(t *testing.T) {
	sub := Short(0x0001)
	pub := Short(0x8001)

	if !sub.IsSubShort() || sub.IsPubShort() {
		t.Errorf("0x0001 should be a sub shortcode, got sub=%v pub=%v", sub.IsSubShort(), sub.IsPubShort())
	}
	if !pub.IsPubShort() || pub.IsSubShort() {
		t.Errorf("0x8001 should be a pub shortcode, got sub=%v pub=%v", pub.IsSubShort(), pub.IsPubShort())
	}
	if Long("foo/bar").IsShort() {
		t.Error("a Long path must not report IsShort")
	}
}

func TestControlResultIsOk(t *testing.T) {
	ok := ControlResult{Response: ControlResponse{Kind: ComponentRegistrationKind, ClientID: uuid.New()}}
	if !ok.IsOk() {
		t.Error("expected IsOk for a result with no error set")
	}

	bad := ControlResult{Err: ErrNoWildcardsInShorts}
	if bad.IsOk() {
		t.Error("expected !IsOk when Err is set")
	}
}

func TestNewSubAckEchoesPath(t *testing.T) {
	path := Long("foo/bar/baz")
	arb := NewSubAck(path)

	if arb.Kind != ArbitratorPubSubKind {
		t.Fatalf("expected PubSub arbitrator message, got %v", arb.Kind)
	}
	if arb.PubSub.Response.Path != path {
		t.Errorf("SubAck path = %v, want %v", arb.PubSub.Response.Path, path)
	}
}
