package driver

import (
	"net"
	"testing"
	"time"

	"github.com/hwkim3330/velocitydrivesp-support/internal/blockwise"
	"github.com/hwkim3330/velocitydrivesp-support/internal/coap"
	"github.com/hwkim3330/velocitydrivesp-support/internal/mup1"
)

// pipeCarrier adapts a net.Conn (one end of a net.Pipe) to the Carrier
// interface for in-process driver tests.
type pipeCarrier struct{ net.Conn }

func (p pipeCarrier) SetReadDeadline(t time.Time) error { return p.Conn.SetReadDeadline(t) }

func TestDoSingleBlockRoundTrip(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer clientSide.Close()
	defer deviceSide.Close()

	d := New(pipeCarrier{clientSide})

	device := mup1.New()
	gotCoAP := make(chan []byte, 1)
	device.Subscribe(mup1.TypeCoAP, func(_ byte, payload []byte) { gotCoAP <- payload })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := deviceSide.Read(buf)
			if err != nil {
				return
			}
			device.Feed(buf[:n])
		}
	}()

	go func() {
		req := <-gotCoAP
		f := coap.Decode(req)
		if f.Err != "" {
			t.Errorf("device: decode request: %s", f.Err)
			return
		}
		reply := &coap.Frame{Type: coap.ACK, Code: coap.Code{Class: 2, Detail: 5}, MsgID: f.MsgID, Payload: []byte("pong")}
		raw, err := coap.Encode(reply)
		if err != nil {
			t.Errorf("device: encode reply: %v", err)
			return
		}
		wire, err := mup1.Transmit(mup1.TypeCoAP, raw)
		if err != nil {
			t.Errorf("device: mup1 transmit: %v", err)
			return
		}
		if _, err := deviceSide.Write(wire); err != nil {
			t.Errorf("device: write reply: %v", err)
		}
	}()

	result, err := d.Do(coap.CodeGET, "/ping", nil, blockwise.DefaultConfig())
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !result.ClassSet || result.Class != 2 || result.Detail != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if string(result.Payload) != "pong" {
		t.Fatalf("unexpected payload: %q", result.Payload)
	}
}
