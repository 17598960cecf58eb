package spi

import (
	"testing"

	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
	"github.com/anachro-project/anachro/queue"
)

type fakeClock struct{ t uint32 }

func (c *fakeClock) Micros() uint32 { c.t += 10; return c.t }

func newLinkedPair(t *testing.T) (*ArbitratorLink, *ComponentLink, *loopbackBus) {
	t.Helper()
	bus := &loopbackBus{}
	arbQueues := queue.NewFullDuplex(4, 4, 512)
	compQueues := &queue.FullDuplex{Outbound: arbQueues.Inbound, Inbound: arbQueues.Outbound}

	arb := NewArbitratorLink(&loopbackArbitrator{bus: bus}, &fakeClock{}, arbQueues)
	comp := NewComponentLink(&loopbackComponent{bus: bus}, compQueues)
	return arb, comp, bus
}

// pumpUntilIdle alternates polling both links until the arbitrator
// returns to Idle (one full query cycle has settled) or the tick
// budget runs out.
func pumpUntilIdle(t *testing.T, arb *ArbitratorLink, comp *ComponentLink, ticks int) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		if err := arb.Poll(); err != nil {
			t.Fatalf("arbitrator poll: %v", err)
		}
		if err := comp.Poll(); err != nil {
			t.Fatalf("component poll: %v", err)
		}
		if arb.IsIdle() && i > 0 {
			return
		}
	}
	t.Fatalf("cycle did not settle within %d ticks", ticks)
}

func TestIdleCycleExchangesEmptyHeadersBothWays(t *testing.T) {
	arb, comp, _ := newLinkedPair(t)
	if err := arb.QueryComponent(); err != nil {
		t.Fatalf("QueryComponent: %v", err)
	}
	pumpUntilIdle(t, arb, comp, 20)

	c := codec.JSON()
	if msg, err := arb.Recv(c); err != nil || msg != nil {
		t.Errorf("expected no component message on an idle cycle, got %+v err=%v", msg, err)
	}
	if msg, err := comp.Recv(); err != nil || msg != nil {
		t.Errorf("expected no arbitrator message on an idle cycle, got %+v err=%v", msg, err)
	}
}

func TestIdleCycleSkipsBodyPhase(t *testing.T) {
	arb, comp, bus := newLinkedPair(t)
	if err := arb.QueryComponent(); err != nil {
		t.Fatalf("QueryComponent: %v", err)
	}
	pumpUntilIdle(t, arb, comp, 20)

	// Both lengths were 0, so only the header DMA ran on either side.
	// A body phase would show up as a second completed exchange; the
	// component keeps speculatively re-arming an empty header once
	// idle again, so only CompleteExchange counts (which require an
	// actual trigger) are meaningful here.
	if bus.arbPrepareCount != 1 || bus.arbCompleteCount != 1 {
		t.Errorf("expected exactly one arbitrator prepare/complete, got prepare=%d complete=%d",
			bus.arbPrepareCount, bus.arbCompleteCount)
	}
	if bus.compCompleteCount != 1 {
		t.Errorf("expected exactly one component completed exchange, got %d", bus.compCompleteCount)
	}
}

func TestComponentMessageReachesArbitrator(t *testing.T) {
	arb, comp, _ := newLinkedPair(t)
	c := codec.JSON()

	if err := comp.Send(icd.NewRegisterComponent(1, "board", icd.Version{Minor: 1})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := arb.QueryComponent(); err != nil {
		t.Fatalf("QueryComponent: %v", err)
	}
	pumpUntilIdle(t, arb, comp, 20)

	msg, err := arb.Recv(c)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg == nil || msg.Kind != icd.ComponentControlKind || msg.Control.RegisterInfo.Name != "board" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestArbitratorMessageReachesComponent(t *testing.T) {
	arb, comp, _ := newLinkedPair(t)
	c := codec.JSON()

	id := icd.ClientID{}
	if err := arb.Send(c, icd.NewComponentRegistration(1, id)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := arb.QueryComponent(); err != nil {
		t.Fatalf("QueryComponent: %v", err)
	}
	pumpUntilIdle(t, arb, comp, 20)

	msg, err := comp.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg == nil || msg.Kind != icd.ArbitratorControlKind || msg.Control.Seq != 1 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendRejectsFrameLargerThanSlot(t *testing.T) {
	_, comp, _ := newLinkedPair(t)

	err := comp.Send(icd.NewPub(icd.Long("x"), make([]byte, 8192)))
	if err == nil {
		t.Fatalf("expected a frame exceeding the ring's slot size to be rejected")
	}
}

func TestQueryComponentRejectsWhileBusy(t *testing.T) {
	arb, comp, _ := newLinkedPair(t)
	if err := arb.QueryComponent(); err != nil {
		t.Fatalf("QueryComponent: %v", err)
	}
	if err := arb.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := arb.QueryComponent(); err == nil {
		t.Fatalf("expected QueryComponent to reject a second call before the cycle settles")
	}
	// drain the in-flight cycle so the pair doesn't leak a goroutine-free
	// but still-pending exchange across tests.
	pumpUntilIdle(t, arb, comp, 20)
}
