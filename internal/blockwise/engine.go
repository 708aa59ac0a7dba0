// Package blockwise implements the client-side CoAP block-wise request
// engine: a per-request state machine that fragments an outbound payload
// across Block1 chunks, reassembles the response across Block2 chunks,
// and retransmits on a fixed interval up to a retry budget.
//
// The engine is modeled as an explicit step function over (state, event,
// now) rather than the return-tuple control flow of the source toolkit,
// so it is directly unit-testable without any I/O: see Request.Advance.
package blockwise

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/hwkim3330/velocitydrivesp-support/internal/coap"
	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
)

// Config holds the retransmission policy. Defaults are a fixed 3s interval
// and 5 retries; no exponential backoff is applied, matching the fixed
// behaviour of the device firmware this talks to, but both knobs are
// exposed as configuration rather than hardcoded.
type Config struct {
	RetransmitInterval time.Duration
	MaxRetries         int
	BlockSize          int
}

func DefaultConfig() Config {
	return Config{RetransmitInterval: 3 * time.Second, MaxRetries: 5, BlockSize: 256}
}

// Result is the terminal outcome carried by the Action whose Done is true.
type Result struct {
	ClassSet bool
	Class    uint8
	Detail   uint8
	Payload  []byte
}

// Action is what the engine wants the driver to do next.
type Action struct {
	// Wait is the absolute deadline to block until, zero if Done.
	Wait time.Time
	// Frame is non-nil when a frame must be transmitted now.
	Frame []byte
	// Done is true once the request has reached a terminal state;
	// Result is then populated.
	Done   bool
	Result Result
}

// Request is the value object representing a single in-flight
// block-wise CoAP exchange.
type Request struct {
	Method        coap.Code
	Path          []string
	Query         []coap.QueryItem
	ContentFormat *uint32
	Accept        *uint32
	Payload       []byte

	cfg Config

	reqTx     *int
	reqTxAck  *int
	resMore   bool
	resNum    int
	resBS     int
	payloadRx []byte

	mid       uint16
	haveMid   bool
	retry     int
	deadline  time.Time
	lastFrame []byte

	lastClass  uint8
	lastDetail uint8
	haveClass  bool

	done   bool
	result Result
}

// New builds a Request ready for its first Advance call.
func New(method coap.Code, uri string, payload []byte, cfg Config) (*Request, error) {
	path, query, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Payload: payload,
		cfg:     cfg,
	}, nil
}

// splitURI splits path on '/' emitting non-empty segments, and decodes the
// query using form rules.
func splitURI(uri string) ([]string, []coap.QueryItem, error) {
	path := uri
	query := ""
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		path, query = uri[:i], uri[i+1:]
	}

	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	var items []coap.QueryItem
	if query != "" {
		for _, kv := range strings.Split(query, "&") {
			if kv == "" {
				continue
			}
			if i := strings.IndexByte(kv, '='); i >= 0 {
				items = append(items, coap.QueryItem{Key: kv[:i], Value: kv[i+1:], HasEq: true})
			} else {
				items = append(items, coap.QueryItem{Key: kv})
			}
		}
	}
	return segs, items, nil
}

func randomMsgID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint16(time.Now().UnixNano())
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

func (r *Request) reqTxDone() bool {
	if len(r.Payload) == 0 {
		return r.reqTx != nil && r.reqTxAck != nil && *r.reqTx == *r.reqTxAck
	}
	if r.reqTx == nil || r.reqTxAck == nil {
		return false
	}
	return *r.reqTx == *r.reqTxAck && *r.reqTx == len(r.Payload)
}

// Advance is the engine's single entrypoint: feed it the current time and,
// optionally, a freshly-parsed inbound frame. It returns the next action
// the driver should take. Call it in a loop (the driver's poll) until
// Action.Done is true.
func (r *Request) Advance(now time.Time, reply *coap.Frame) Action {
	if r.done {
		return Action{Done: true, Result: r.result}
	}

	if reply != nil {
		if a, handled := r.receive(reply); handled {
			return a
		}
		// A valid, in-sequence reply always forces a fresh build below by
		// clearing any pending retransmit deadline; a stale reply leaves
		// the deadline running.
		if r.haveMid && reply.MsgID == r.mid {
			r.deadline = time.Time{}
		}
	}

	return r.step(now)
}

// receive applies the rules for handling an inbound reply. The second
// return value is true when the request reached a terminal state as a
// direct result of this frame, which happens only for a 4.xx/5.xx reply;
// a completed response is finished by the following step.
func (r *Request) receive(f *coap.Frame) (Action, bool) {
	if !r.haveMid || f.MsgID != r.mid {
		logging.Debugf("blockwise: dropping reply with msgid %d (want %d)", f.MsgID, r.mid)
		return Action{}, false
	}

	if f.Type == coap.ACK && f.Code.Class == 2 && r.reqTx != nil {
		ack := *r.reqTx
		r.reqTxAck = &ack
	}

	r.payloadRx = append(r.payloadRx, f.Payload...)
	if f.Block2 != nil && f.Block2.More {
		r.resMore = true
		r.resNum = f.Block2.Num
		r.resBS = f.Block2.Size
	} else {
		r.resMore = false
	}
	r.lastClass, r.lastDetail, r.haveClass = f.Code.Class, f.Code.Detail, true

	if f.Code.Class == 4 || f.Code.Class == 5 {
		return r.terminate(true, f.Code.Class, f.Code.Detail), true
	}
	return Action{}, false
}

func (r *Request) terminate(classSet bool, class, detail uint8) Action {
	r.done = true
	r.deadline = time.Time{}
	r.result = Result{ClassSet: classSet, Class: class, Detail: detail, Payload: r.payloadRx}
	return Action{Done: true, Result: r.result}
}

// step advances the request when no fresh reply is driving it: retransmit
// on an elapsed deadline, build the next request block, or finish up once
// both directions are fully drained.
func (r *Request) step(now time.Time) Action {
	if !r.deadline.IsZero() {
		if !now.Before(r.deadline) {
			if r.retry < r.cfg.MaxRetries {
				r.retry++
				r.deadline = now.Add(r.cfg.RetransmitInterval)
				logging.Warnf("blockwise: retransmit %d/%d for msgid %d", r.retry, r.cfg.MaxRetries, r.mid)
				return Action{Wait: r.deadline, Frame: r.lastFrame}
			}
			logging.Warnf("blockwise: retry budget exhausted for msgid %d", r.mid)
			return r.terminate(false, 0, 0)
		}
		return Action{Wait: r.deadline}
	}

	f := &coap.Frame{Type: coap.CON, Code: r.Method, MsgID: r.nextMid()}
	f.Path = r.Path
	f.Query = r.Query
	f.Block2 = &coap.Block{Num: 0, More: false, Size: r.cfg.BlockSize}

	switch {
	case len(r.Payload) > 0 && !r.reqTxDone():
		start := 0
		if r.reqTxAck != nil {
			start = *r.reqTxAck
		}
		end := start + r.cfg.BlockSize
		more := true
		if end >= len(r.Payload) {
			end = len(r.Payload)
			more = false
		}
		f.Block1 = &coap.Block{Num: start / r.cfg.BlockSize, More: more, Size: r.cfg.BlockSize}
		if r.ContentFormat != nil {
			f.Content = r.ContentFormat
		}
		f.Payload = r.Payload[start:end]
		tx := end
		r.reqTx = &tx

	case len(r.Payload) == 0 && r.reqTx == nil:
		zero := 0
		r.reqTx = &zero

	case r.resMore:
		f.Block2 = &coap.Block{Num: r.resNum + 1, More: false, Size: r.resBS}

	default:
		// Request fully sent and no further response blocks pending: the
		// response was already reassembled successfully by receive().
		return r.terminate(r.haveClass, r.lastClass, r.lastDetail)
	}

	raw, err := coap.Encode(f)
	if err != nil {
		logging.Errorf("blockwise: encode request: %v", err)
		return r.terminate(false, 0, 0)
	}

	r.lastFrame = raw
	r.deadline = now.Add(r.cfg.RetransmitInterval)
	r.retry = 0
	return Action{Wait: r.deadline, Frame: raw}
}

func (r *Request) nextMid() uint16 {
	if !r.haveMid {
		r.mid = randomMsgID()
		r.haveMid = true
	}
	return r.mid
}

// Deadline returns the request's current pending retransmit deadline, or
// the zero Time if none is pending (before the first Advance, or once the
// request is terminal). The driver uses this to bound its poll.
func (r *Request) Deadline() time.Time {
	return r.deadline
}

// String renders a short diagnostic summary, used in driver trace logs.
func (r *Request) String() string {
	return fmt.Sprintf("blockwise{mid=%d retry=%d reqTx=%v resMore=%v}", r.mid, r.retry, r.reqTx, r.resMore)
}
