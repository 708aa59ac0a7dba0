package blockwise

import (
	"bytes"
	"testing"
	"time"

	"github.com/hwkim3330/velocitydrivesp-support/internal/coap"
)

func mustNew(t *testing.T, payload []byte) *Request {
	t.Helper()
	r, err := New(coap.CodePUT, "/c/Bth", payload, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func decodeSent(t *testing.T, a Action) *coap.Frame {
	t.Helper()
	if a.Frame == nil {
		t.Fatal("expected a frame to be sent")
	}
	f := coap.Decode(a.Frame)
	if f.Err != "" {
		t.Fatalf("sent frame does not decode: %s", f.Err)
	}
	return f
}

func ackFor(f *coap.Frame, class, detail uint8, payload []byte, block2 *coap.Block) *coap.Frame {
	return &coap.Frame{
		Type:    coap.ACK,
		Code:    coap.Code{Class: class, Detail: detail},
		MsgID:   f.MsgID,
		Payload: payload,
		Block2:  block2,
	}
}

func TestSingleBlockExactly256(t *testing.T) {
	r := mustNew(t, bytes.Repeat([]byte{0xAB}, 256))
	now := time.Now()

	a := r.Advance(now, nil)
	f := decodeSent(t, a)
	if f.Block1 == nil || f.Block1.More || f.Block1.Num != 0 || f.Block1.Size != 256 {
		t.Fatalf("expected single Block1(0,false,256), got %+v", f.Block1)
	}

	reply := ackFor(f, 2, 4, nil, nil)
	a = r.Advance(now, reply)
	if !a.Done {
		t.Fatal("expected request to terminate after single-block exchange")
	}
	if !a.Result.ClassSet || a.Result.Class != 2 || a.Result.Detail != 4 {
		t.Fatalf("unexpected result: %+v", a.Result)
	}
}

func Test257BytesProducesTwoChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xCD}, 257)
	r := mustNew(t, payload)
	now := time.Now()

	a := r.Advance(now, nil)
	f1 := decodeSent(t, a)
	if f1.Block1 == nil || f1.Block1.Num != 0 || !f1.Block1.More || len(f1.Payload) != 256 {
		t.Fatalf("first chunk wrong: %+v len=%d", f1.Block1, len(f1.Payload))
	}

	reply1 := ackFor(f1, 2, 31, nil, nil) // 2.31 Continue
	a = r.Advance(now, reply1)
	f2 := decodeSent(t, a)
	if f2.Block1 == nil || f2.Block1.Num != 1 || f2.Block1.More || len(f2.Payload) != 1 {
		t.Fatalf("second chunk wrong: %+v len=%d", f2.Block1, len(f2.Payload))
	}

	reply2 := ackFor(f2, 2, 4, []byte("ok"), nil)
	a = r.Advance(now, reply2)
	if !a.Done {
		t.Fatal("expected terminal after second chunk ack")
	}
	if string(a.Result.Payload) != "ok" {
		t.Fatalf("unexpected payload: %q", a.Result.Payload)
	}
}

func TestBlock2ContinuationRequestsNextBlock(t *testing.T) {
	r := mustNew(t, nil)
	now := time.Now()

	a := r.Advance(now, nil)
	f1 := decodeSent(t, a)

	more := coap.Block{Num: 0, More: true, Size: 256}
	reply1 := ackFor(f1, 2, 5, bytes.Repeat([]byte{1}, 256), &more)
	a = r.Advance(now, reply1)
	f2 := decodeSent(t, a)
	if f2.Block2 == nil || f2.Block2.Num != 1 || f2.Block2.More || f2.Block2.Size != 256 {
		t.Fatalf("expected Block2(num=1,more=0,size=256), got %+v", f2.Block2)
	}

	reply2 := ackFor(f2, 2, 5, bytes.Repeat([]byte{2}, 10), nil)
	a = r.Advance(now, reply2)
	if !a.Done {
		t.Fatal("expected terminal after final block")
	}
	if len(a.Result.Payload) != 266 {
		t.Fatalf("expected reassembled 266-byte payload, got %d", len(a.Result.Payload))
	}
}

func TestRetransmitAndGiveUp(t *testing.T) {
	r := mustNew(t, nil)
	now := time.Now()
	cfg := DefaultConfig()

	a := r.Advance(now, nil)
	first := a.Frame
	if first == nil {
		t.Fatal("expected initial frame")
	}

	for i := 1; i <= cfg.MaxRetries; i++ {
		now = now.Add(cfg.RetransmitInterval)
		a = r.Advance(now, nil)
		if a.Done {
			t.Fatalf("should not terminate on retry %d", i)
		}
		if !bytes.Equal(a.Frame, first) {
			t.Fatalf("retry %d: expected retransmit of original frame", i)
		}
	}

	now = now.Add(cfg.RetransmitInterval)
	a = r.Advance(now, nil)
	if !a.Done {
		t.Fatal("expected terminal after retry budget exhausted")
	}
	if a.Result.ClassSet {
		t.Fatalf("expected no class set on retry exhaustion, got %+v", a.Result)
	}
}

func TestServerErrorTerminates(t *testing.T) {
	r := mustNew(t, nil)
	now := time.Now()

	a := r.Advance(now, nil)
	f := decodeSent(t, a)

	reply := ackFor(f, 4, 4, nil, nil) // 4.04 Not Found
	a = r.Advance(now, reply)
	if !a.Done {
		t.Fatal("expected terminal on 4.xx")
	}
	if !a.Result.ClassSet || a.Result.Class != 4 {
		t.Fatalf("unexpected result: %+v", a.Result)
	}
}

func TestStaleMsgIDIgnored(t *testing.T) {
	r := mustNew(t, nil)
	now := time.Now()

	a := r.Advance(now, nil)
	f := decodeSent(t, a)

	stale := &coap.Frame{Type: coap.ACK, Code: coap.Code{Class: 2, Detail: 5}, MsgID: f.MsgID + 1}
	a = r.Advance(now, stale)
	if a.Done {
		t.Fatal("stale msgid should not terminate the request")
	}
	if a.Frame != nil {
		t.Fatal("stale msgid should not trigger a retransmit or new frame")
	}
}

func TestSingleMidInFlight(t *testing.T) {
	r := mustNew(t, bytes.Repeat([]byte{1}, 257))
	now := time.Now()

	a := r.Advance(now, nil)
	f1 := decodeSent(t, a)
	mid1 := f1.MsgID

	reply := ackFor(f1, 2, 31, nil, nil)
	a = r.Advance(now, reply)
	f2 := decodeSent(t, a)

	if f2.MsgID != mid1 {
		t.Fatalf("expected message id to remain %d across the same request, got %d", mid1, f2.MsgID)
	}
}
