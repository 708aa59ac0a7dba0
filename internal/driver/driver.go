// Package driver wires the carrier, MUP1 framer, and block-wise CoAP
// engine into a single-threaded cooperative loop: one
// wait primitive (bytes available OR deadline reached), no background
// goroutines, deadlines recomputed on every poll.
package driver

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hwkim3330/velocitydrivesp-support/internal/blockwise"
	"github.com/hwkim3330/velocitydrivesp-support/internal/carrier"
	"github.com/hwkim3330/velocitydrivesp-support/internal/coap"
	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
	"github.com/hwkim3330/velocitydrivesp-support/internal/mup1"
)

// pollSlice bounds how long a single blocking read waits when no handler
// deadline is pending, so the loop still notices a closed carrier.
const pollSlice = 500 * time.Millisecond

// Driver owns the byte stream and drives the MUP1 framer and the single
// in-flight block-wise request to their next deadline.
type Driver struct {
	c      carrier.Carrier
	framer *mup1.Framer

	active     *blockwise.Request
	lastResult blockwise.Result
	// corrID is a host-side-only diagnostic correlation id, regenerated
	// per Do() call, threaded through this request's log lines. It has
	// no wire representation: replies are matched by message id alone,
	// never by CoAP token.
	corrID string

	announce func([]byte)
	trace    func([]byte)
}

// New wraps an already-dialed carrier (see carrier.Dial).
func New(c carrier.Carrier) *Driver {
	d := &Driver{c: c, framer: mup1.New()}
	d.framer.Subscribe(mup1.TypeCoAP, func(_ byte, payload []byte) { d.onCoAP(payload) })
	d.framer.Subscribe(mup1.TypeAnnounce, func(_ byte, payload []byte) {
		if d.announce != nil {
			d.announce(payload)
		}
	})
	d.framer.Subscribe(mup1.TypeTrace, func(_ byte, payload []byte) {
		if d.trace != nil {
			d.trace(payload)
		}
	})
	return d
}

// OnAnnounce installs a callback for unsolicited announce frames.
func (d *Driver) OnAnnounce(f func(payload []byte)) { d.announce = f }

// OnTrace installs a callback for trace frames.
func (d *Driver) OnTrace(f func(payload []byte)) { d.trace = f }

func (d *Driver) onCoAP(payload []byte) {
	f := coap.Decode(payload)
	if f.Err != "" {
		logging.Warnf("driver: dropping malformed coap frame: %s", f.Err)
		return
	}
	if d.active == nil {
		logging.Debugf("driver: coap reply with no in-flight request, msgid %d", f.MsgID)
		return
	}
	a := d.active.Advance(time.Now(), f)
	logging.Debugf("driver[%s]: reply msgid=%d class=%d detail=%d", d.corrID, f.MsgID, f.Code.Class, f.Code.Detail)
	d.applyAction(a)
}

func (d *Driver) applyAction(a blockwise.Action) {
	if a.Frame != nil {
		if err := d.write(a.Frame); err != nil {
			logging.Errorf("driver[%s]: carrier write: %v", d.corrID, err)
		}
	}
	if a.Done {
		d.lastResult = a.Result
		logging.Debugf("driver[%s]: request done classSet=%v class=%d detail=%d bytes=%d",
			d.corrID, a.Result.ClassSet, a.Result.Class, a.Result.Detail, len(a.Result.Payload))
		d.active = nil
	}
}

// write re-wraps and sends a raw CoAP frame over the carrier as a MUP1 unit.
func (d *Driver) write(coapFrame []byte) error {
	wire, err := mup1.Transmit(mup1.TypeCoAP, coapFrame)
	if err != nil {
		return errors.Wrap(err, "mup1 transmit")
	}
	_, err = d.c.Write(wire)
	return err
}

// Do issues a single block-wise CoAP request and blocks (via repeated Poll
// calls) until it reaches a terminal state. Only one request may be
// in-flight at a time, matching the single message id in flight rule.
func (d *Driver) Do(method coap.Code, uri string, payload []byte, cfg blockwise.Config) (blockwise.Result, error) {
	if d.active != nil {
		return blockwise.Result{}, errors.New("driver: a request is already in flight")
	}
	req, err := blockwise.New(method, uri, payload, cfg)
	if err != nil {
		return blockwise.Result{}, err
	}
	d.active = req
	d.corrID = uuid.NewString()
	logging.Debugf("driver[%s]: request %+v %s", d.corrID, method, uri)

	first := req.Advance(time.Now(), nil)
	d.applyAction(first)

	for d.active != nil {
		if err := d.Poll(); err != nil {
			return blockwise.Result{}, err
		}
	}
	return d.lastResult, nil
}

// Poll runs one iteration of the driver's wait: a bounded read on the
// carrier, bytes fed to the framer, and any elapsed handler timeouts run.
func (d *Driver) Poll() error {
	deadline := d.nextDeadline()
	if err := d.c.SetReadDeadline(deadline); err != nil {
		return errors.Wrap(err, "driver: set read deadline")
	}

	buf := make([]byte, 4096)
	n, err := d.c.Read(buf)
	now := time.Now()
	if n > 0 {
		d.framer.Feed(buf[:n])
	}
	if err != nil {
		if !isTimeout(err) {
			return errors.Wrap(err, "driver: carrier read")
		}
		d.framer.Timeout()
		if d.active != nil {
			a := d.active.Advance(now, nil)
			d.applyAction(a)
		}
	}
	return nil
}

func (d *Driver) nextDeadline() time.Time {
	bound := time.Now().Add(pollSlice)
	if d.active == nil {
		return bound
	}
	// The request's own retransmit deadline, recomputed on the last Advance,
	// bounds the read whenever it falls sooner than the driver's own
	// liveness slice.
	if dl := d.active.Deadline(); !dl.IsZero() && dl.Before(bound) {
		return dl
	}
	return bound
}

// Close releases the underlying carrier, the driver's only long-lived
// resource.
func (d *Driver) Close() error { return d.c.Close() }

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
