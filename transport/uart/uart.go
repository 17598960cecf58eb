// Package uart provides a direct UART transport for the pub/sub
// fabric, COBS-framing each message the same way transport/tcp does
// but over a serial port.
//
// Grounded on common/mgrpc/codec/serial.go's OpenOptions/baud-rate
// handling, with the XON/XOFF software flow control and handshake
// delimiter logic dropped: those exist to make mgrpc's own line
// protocol robust to a shell or bootloader sharing the same UART, and
// COBS framing has no byte that needs escaping in the first place.
package uart

import (
	"bytes"
	"io"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/juju/errors"

	"github.com/anachro-project/anachro/codec"
	"github.com/anachro-project/anachro/icd"
)

const (
	readBufSize           = 4096
	interCharacterTimeout = 200 * time.Millisecond
)

// OpenOptions configures the serial port. Zero value BaudRate
// defaults to 115200, matching the teacher's default.
type OpenOptions struct {
	BaudRate            uint
	HardwareFlowControl bool
}

// Conn adapts a serial port to client.ClientIO.
type Conn struct {
	port   serial.Serial
	codec  codec.MessageCodec
	reader *frameReader
}

// Open opens portName and wraps it. A nil codec defaults to
// codec.JSON().
func Open(portName string, opts OpenOptions, c codec.MessageCodec) (*Conn, error) {
	oo := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              115200,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		HardwareFlowControl:   opts.HardwareFlowControl,
		InterCharacterTimeout: uint(interCharacterTimeout / time.Millisecond),
		MinimumReadSize:       0,
	}
	if opts.BaudRate != 0 {
		oo.BaudRate = opts.BaudRate
	}
	port, err := serial.Open(oo)
	if err != nil {
		return nil, errors.Annotatef(err, "anachro: open %s", portName)
	}
	port.Flush()

	if c == nil {
		c = codec.JSON()
	}
	return &Conn{port: port, codec: c, reader: newFrameReader(port)}, nil
}

// Recv satisfies client.ClientIO: returns nil, nil when no frame is
// ready yet.
func (c *Conn) Recv() (*icd.Arbitrator, error) {
	select {
	case frame, ok := <-c.reader.frames:
		if !ok {
			select {
			case err := <-c.reader.err:
				return nil, errors.Annotate(err, "anachro: uart read")
			default:
				return nil, errors.New("anachro: uart port closed")
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
	_, err = c.port.Write(frame)
	return errors.Annotate(err, "anachro: uart write")
}

// Close releases the underlying port.
func (c *Conn) Close() error { return c.port.Close() }

// frameReader accumulates bytes off a serial.Serial on its own
// goroutine and delivers whole COBS frames on frames, the same way
// transport/tcp's frameReader does for a net.Conn. The teacher's
// pseudo-EOF handling (serialCodec.Read, which papers over
// InterCharacterTimeout expiring with no data) is reproduced here:
// a bare io.EOF is normal idle behavior for this driver, not a hangup,
// unless it arrives within half the inter-character timeout of the
// previous io.EOF, which is treated as a fatal read error.
type frameReader struct {
	frames chan []byte
	err    chan error
}

func newFrameReader(port serial.Serial) *frameReader {
	fr := &frameReader{frames: make(chan []byte, 16), err: make(chan error, 1)}
	go fr.run(port)
	return fr
}

func (fr *frameReader) run(port serial.Serial) {
	defer close(fr.frames)
	var pending []byte
	var lastEOF time.Time
	buf := make([]byte, readBufSize)
	for {
		n, err := port.Read(buf)
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
			now := time.Now()
			if err == io.EOF && !lastEOF.Add(interCharacterTimeout/2).After(now) {
				lastEOF = now
				continue
			}
			fr.err <- err
			return
		}
	}
}
