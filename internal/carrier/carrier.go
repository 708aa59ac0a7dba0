// Package carrier dials the three byte-duplex transports the driver can
// speak over: a termhub or telnet TCP endpoint, or a local serial
// port. It deliberately does not spawn a background receive goroutine of
// its own — the concurrency model here is a single-threaded cooperative
// driver, so Carrier only exposes a blocking, deadline-bounded Read/Write
// pair for that driver's own poll loop to call directly.
package carrier

import (
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
)

// Carrier is the byte-duplex abstraction the driver polls.
type Carrier interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// telnetHandshake is IAC WILL BIN, IAC DO BIN, IAC DO ECHO.
var telnetHandshake = []byte{0xFF, 0xFB, 0x03, 0xFF, 0xFD, 0x03, 0xFF, 0xFD, 0x01}

const dialTimeout = 5 * time.Second

// Dial opens uri, which is one of:
//   - termhub://host:port       plain TCP
//   - telnet://host:port        TCP, then the fixed IAC handshake
//   - a filesystem path         a local serial port, 115200 8N1, no flow control
func Dial(uri string) (Carrier, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return dialSerial(uri)
	}

	switch u.Scheme {
	case "termhub":
		return dialTCP(u.Host)
	case "telnet":
		c, err := dialTCP(u.Host)
		if err != nil {
			return nil, err
		}
		if _, err := c.Write(telnetHandshake); err != nil {
			c.Close()
			return nil, errors.Wrap(err, "carrier: telnet handshake write")
		}
		drain := make([]byte, 256)
		c.conn.SetReadDeadline(time.Now().Add(dialTimeout))
		if _, err := c.conn.Read(drain); err != nil {
			logging.Warnf("carrier: telnet handshake drain read: %v", err)
		}
		return c, nil
	default:
		return dialSerial(uri)
	}
}

type tcpCarrier struct {
	conn net.Conn
}

func dialTCP(hostport string) (*tcpCarrier, error) {
	conn, err := net.DialTimeout("tcp", hostport, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "carrier: dial %s", hostport)
	}
	return &tcpCarrier{conn: conn}, nil
}

func (c *tcpCarrier) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *tcpCarrier) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *tcpCarrier) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
func (c *tcpCarrier) Close() error { return c.conn.Close() }

type serialCarrier struct {
	port *serial.Port
}

// dialSerial opens a local serial port at 115200 8N1, no flow control.
// tarm/serial has no per-call read deadline, so SetReadDeadline is a
// no-op here; the port's own ReadTimeout bounds each Read instead.
func dialSerial(path string) (*serialCarrier, error) {
	cfg := &serial.Config{
		Name:        path,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: time.Second,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "carrier: open serial port %s", path)
	}
	return &serialCarrier{port: port}, nil
}

// serialReadTimeoutError satisfies the net.Error-style Timeout() check the
// driver's poll loop uses to decide when to run pending handler timeouts.
type serialReadTimeoutError struct{}

func (serialReadTimeoutError) Error() string   { return "carrier: serial read timeout" }
func (serialReadTimeoutError) Timeout() bool   { return true }
func (serialReadTimeoutError) Temporary() bool { return true }

func (c *serialCarrier) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		// tarm/serial returns (0, nil) once its fixed ReadTimeout elapses
		// rather than a timeout error; surface it as one so the driver's
		// retransmit clock advances on a serial carrier the same way it
		// does on TCP.
		return 0, serialReadTimeoutError{}
	}
	return n, err
}
func (c *serialCarrier) Write(p []byte) (int, error) { return c.port.Write(p) }
func (c *serialCarrier) SetReadDeadline(t time.Time) error {
	return nil
}
func (c *serialCarrier) Close() error { return c.port.Close() }
