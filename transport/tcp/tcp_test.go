package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/anachro-project/anachro/broker"
	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
)

func waitMsg(t *testing.T, c *Conn) *icd.Arbitrator {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if msg != nil {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a message")
	return nil
}

func startServer(t *testing.T) (net.Listener, *Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(broker.New(broker.DefaultConfig()), codec.JSON())
	go srv.Serve(ln)
	go srv.Run()
	return ln, srv
}

func TestRegistrationRoundTrip(t *testing.T) {
	ln, _ := startServer(t)
	defer ln.Close()

	conn, err := Dial(ln.Addr().String(), codec.JSON())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(icd.NewRegisterComponent(7, "board", icd.Version{Minor: 1})); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := waitMsg(t, conn)
	if msg.Kind != icd.ArbitratorControlKind || msg.Control.Seq != 7 {
		t.Fatalf("unexpected response: %+v", msg)
	}
	if msg.Control.Result.Response.Kind != icd.ComponentRegistrationKind {
		t.Fatalf("expected a component registration, got %+v", msg.Control.Result.Response)
	}
}

func TestPublishFansOutToSubscriber(t *testing.T) {
	ln, _ := startServer(t)
	defer ln.Close()

	pub, err := Dial(ln.Addr().String(), codec.JSON())
	if err != nil {
		t.Fatalf("dial pub: %v", err)
	}
	defer pub.Close()
	sub, err := Dial(ln.Addr().String(), codec.JSON())
	if err != nil {
		t.Fatalf("dial sub: %v", err)
	}
	defer sub.Close()

	pub.Send(icd.NewRegisterComponent(1, "pub", icd.Version{Minor: 1}))
	waitMsg(t, pub)
	sub.Send(icd.NewRegisterComponent(1, "sub", icd.Version{Minor: 1}))
	waitMsg(t, sub)

	sub.Send(icd.NewSub(icd.Long("weather/station")))
	waitMsg(t, sub)

	pub.Send(icd.NewPub(icd.Long("weather/station"), []byte("sunny")))

	msg := waitMsg(t, sub)
	if msg.Kind != icd.ArbitratorPubSubKind || msg.PubSub.Response.Kind != icd.SubMsgKind {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.PubSub.Response.Payload) != "sunny" {
		t.Fatalf("unexpected payload: %q", msg.PubSub.Response.Payload)
	}
}
