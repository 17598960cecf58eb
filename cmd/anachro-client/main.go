// Command anachro-client drives one client.Client over a TCP or UART
// transport, subscribing to a topic and publishing to it on a timer.
//
// Grounded on pc-examples/client-tcp/src/main.rs and
// anachro-client-cli/src/main.rs's Client::new/process_one/publish
// call pattern, adapted from a fixed two-second burst loop into a
// ticker-driven one running until interrupted.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"

	"github.com/anachro-project/anachro/client"
	"github.com/anachro-project/anachro/icd"
	"github.com/anachro-project/anachro/transport/tcp"
	"github.com/anachro-project/anachro/transport/uart"
)

var (
	addr        = flag.String("addr", "127.0.0.1:8080", "arbitrator TCP address; ignored if --port is set")
	port        = flag.String("port", "", "serial port to use instead of TCP")
	baud        = flag.Uint("baud", 115200, "baud rate, when using --port")
	name        = flag.String("name", "anachro-client", "component name to register as")
	topic       = flag.String("topic", "anachro/demo", "topic to subscribe and publish to")
	payload     = flag.String("payload", "hello from anachro-client", "payload to publish")
	publishEach = flag.Duration("publish-every", 2*time.Second, "publish interval once active")
	tickEvery   = flag.Duration("tick-every", 20*time.Millisecond, "ProcessOne poll interval")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	io, closer, err := dial()
	if err != nil {
		glog.Errorf("anachro: %v", err)
		os.Exit(1)
	}
	defer closer()

	c := client.New(*name, icd.Version{Major: 0, Minor: 1}, 0x0500, []string{*topic}, nil, nil)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*tickEvery)
	defer ticker.Stop()
	publishTicker := time.NewTicker(*publishEach)
	defer publishTicker.Stop()

	wasActive := false
	for {
		select {
		case <-sigs:
			glog.Infof("anachro: shutting down")
			return

		case <-ticker.C:
			msg, err := c.ProcessOne(io)
			if err != nil {
				glog.Warningf("anachro: process one: %v", err)
				continue
			}
			if msg != nil {
				glog.Infof("anachro: received %s: %q", msg.Path, msg.Payload)
			}
			if c.IsActive() && !wasActive {
				wasActive = true
				id, _ := c.ID()
				glog.Infof("anachro: active, assigned id %s", id)
			}

		case <-publishTicker.C:
			if !c.IsActive() {
				continue
			}
			if err := c.Publish(io, *topic, []byte(*payload)); err != nil {
				glog.Warningf("anachro: publish: %v", err)
			}
		}
	}
}

func dial() (client.ClientIO, func(), error) {
	if *port != "" {
		conn, err := uart.Open(*port, uart.OpenOptions{BaudRate: *baud}, nil)
		if err != nil {
			return nil, nil, err
		}
		return conn, func() { conn.Close() }, nil
	}
	conn, err := tcp.Dial(*addr, nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { conn.Close() }, nil
}
