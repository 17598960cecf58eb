// Package tcp provides a direct TCP transport for the pub/sub fabric:
// each message is COBS-framed and written whole, and incoming bytes
// are split on the 0x00 terminator to recover frame boundaries.
//
// Grounded on anachro-client-cli/src/main.rs and
// anachro-server-tcp-cli/src/main.rs's accumulate-then-split-on-0x00
// loops, reworked from their single-threaded polling style into a
// goroutine-per-connection shape the way common/mgrpc/codec/tcp.go
// wraps a net.Conn behind the one shared Codec interface.
package tcp

import (
	"bytes"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/anachro-project/anachro/broker"
	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
)

const readBufSize = 4096

// frameReader accumulates bytes off a net.Conn on its own goroutine
// and delivers whole COBS frames (each ending in its 0x00 terminator)
// on frames. It closes frames and reports the fatal read error on err
// once the connection is gone.
type frameReader struct {
	frames chan []byte
	err    chan error
}

func newFrameReader(conn net.Conn) *frameReader {
	fr := &frameReader{frames: make(chan []byte, 16), err: make(chan error, 1)}
	go fr.run(conn)
	return fr
}

func (fr *frameReader) run(conn net.Conn) {
	defer close(fr.frames)
	var pending []byte
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, 0x00)
				if i < 0 {
					break
				}
				frame := make([]byte, i+1)
				copy(frame, pending[:i+1])
				pending = pending[i+1:]
				fr.frames <- frame
			}
		}
		if err != nil {
			fr.err <- err
			return
		}
	}
}

// Conn adapts a TCP connection to client.ClientIO. Recv never blocks;
// Send writes synchronously.
type Conn struct {
	conn   net.Conn
	codec  codec.MessageCodec
	reader *frameReader
}

// Dial connects to addr and wraps the resulting connection. A nil
// codec defaults to codec.JSON().
func Dial(addr string, c codec.MessageCodec) (*Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Annotate(err, "anachro: tcp dial")
	}
	return NewConn(conn, c), nil
}

// NewConn wraps an already-established connection, e.g. one accepted
// by a test listener.
func NewConn(conn net.Conn, c codec.MessageCodec) *Conn {
	if c == nil {
		c = codec.JSON()
	}
	return &Conn{conn: conn, codec: c, reader: newFrameReader(conn)}
}

// Recv satisfies client.ClientIO: returns nil, nil when no frame is
// ready yet.
func (c *Conn) Recv() (*icd.Arbitrator, error) {
	select {
	case frame, ok := <-c.reader.frames:
		if !ok {
			select {
			case err := <-c.reader.err:
				return nil, errors.Annotate(err, "anachro: tcp read")
			default:
				return nil, errors.New("anachro: tcp connection closed")
			}
		}
		msg, err := c.codec.DecodeArbitrator(frame)
		if err != nil {
			return nil, err
		}
		return &msg, nil
	default:
		return nil, nil
	}
}

// Send satisfies client.ClientIO.
func (c *Conn) Send(msg icd.Component) error {
	frame, err := c.codec.EncodeComponent(msg)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return errors.Annotate(err, "anachro: tcp write")
}

// Close releases the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// Server drives a broker.Broker off accepted TCP connections. Each
// connection gets its own reader goroutine feeding a single inbound
// channel, and Run is the only goroutine that calls ProcessMessage.
// Serve and the reader goroutines also call RegisterClient and
// ResetClient; the broker's own mutex serializes those calls.
//
// Grounded on TcpBroker/SessionManager in
// anachro-server-tcp-cli/src/main.rs, with the manual accept/read poll
// loop replaced by goroutines and channels.
type Server struct {
	broker *broker.Broker
	codec  codec.MessageCodec

	mu    sync.Mutex
	conns map[icd.ClientID]net.Conn

	inbound chan inboundMsg
}

type inboundMsg struct {
	source icd.ClientID
	msg    icd.Component
	err    error
}

// NewServer constructs a Server over an existing broker. A nil codec
// defaults to codec.JSON().
func NewServer(b *broker.Broker, c codec.MessageCodec) *Server {
	if c == nil {
		c = codec.JSON()
	}
	return &Server{
		broker:  b,
		codec:   c,
		conns:   make(map[icd.ClientID]net.Conn),
		inbound: make(chan inboundMsg, 64),
	}
}

// Serve accepts connections from ln until Accept returns an error
// (typically because ln was closed).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Annotate(err, "anachro: tcp accept")
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.New()
	if err := s.broker.RegisterClient(id); err != nil {
		glog.Warningf("anachro: tcp register %s: %v", id, err)
		conn.Close()
		return
	}

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	glog.V(1).Infof("anachro: %s connected from %s", id, conn.RemoteAddr())

	reader := newFrameReader(conn)
	go func() {
		for frame := range reader.frames {
			msg, err := s.codec.DecodeComponent(frame)
			if err != nil {
				glog.Warningf("anachro: %s sent unparseable frame: %v", id, err)
				s.deliver(id, icd.NewControlError(0, icd.ErrResetConnection))
				s.broker.ResetClient(id)
				continue
			}
			s.inbound <- inboundMsg{source: id, msg: msg}
		}
		s.inbound <- inboundMsg{source: id, err: <-reader.err}
	}()
}

// Run drains inbound messages and drives the broker. It returns only
// if the inbound channel is closed, which nothing in this package
// does, and its error result is always nil; callers typically run it
// in its own goroutine for the lifetime of the process.
func (s *Server) Run() error {
	for m := range s.inbound {
		if m.err != nil {
			s.evict(m.source)
			continue
		}

		out, err := s.broker.ProcessMessage(m.source, m.msg)
		if err != nil {
			glog.Warningf("anachro: %s: %v", m.source, err)
			s.deliver(m.source, icd.NewControlError(0, icd.ErrResetConnection))
			s.broker.ResetClient(m.source)
			continue
		}
		for _, o := range out {
			s.deliver(o.Dest, o.Msg)
		}
	}
	return nil
}

func (s *Server) deliver(dest icd.ClientID, msg icd.Arbitrator) {
	s.mu.Lock()
	conn, ok := s.conns[dest]
	s.mu.Unlock()
	if !ok {
		return
	}
	frame, err := s.codec.EncodeArbitrator(msg)
	if err != nil {
		glog.Warningf("anachro: encode response for %s: %v", dest, err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		glog.Warningf("anachro: write to %s: %v", dest, err)
		s.evict(dest)
	}
}

func (s *Server) evict(id icd.ClientID) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
	s.broker.RemoveClient(id)
	glog.V(1).Infof("anachro: %s disconnected", id)
}
