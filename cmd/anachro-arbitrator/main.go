// Command anachro-arbitrator runs a broker.Broker behind a TCP
// listener, accepting concurrent client connections; a connection
// beyond --max-clients is closed as soon as it is accepted.
//
// Grounded on pc-examples/server-tcp/src/main.rs and
// anachro-server-tcp-cli/src/main.rs, adapted from their
// single-threaded accept/poll loop to transport/tcp's
// goroutine-per-connection Server.
package main

import (
	"net"
	"os"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/anachro-project/anachro/broker"
	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/transport/tcp"
)

var (
	addr                   = flag.String("addr", "127.0.0.1:8080", "TCP address to listen on")
	maxClients             = flag.Int("max-clients", 8, "maximum number of simultaneously registered clients")
	maxSubsPerClient       = flag.Int("max-subs-per-client", 8, "maximum subscriptions per client")
	maxShortcodesPerClient = flag.Int("max-shortcodes-per-client", 8, "maximum short-code aliases per client")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := broker.Config{
		MaxClients:             *maxClients,
		MaxSubsPerClient:       *maxSubsPerClient,
		MaxShortcodesPerClient: *maxShortcodesPerClient,
	}
	b := broker.New(cfg)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		glog.Errorf("anachro: listen on %s: %v", *addr, err)
		os.Exit(1)
	}
	glog.Infof("anachro: listening on %s", ln.Addr())

	srv := tcp.NewServer(b, codec.JSON())
	go func() {
		if err := srv.Run(); err != nil {
			glog.Errorf("anachro: dispatch loop exited: %v", err)
		}
	}()

	if err := srv.Serve(ln); err != nil {
		glog.Errorf("anachro: serve: %v", err)
		os.Exit(1)
	}
}
