package wire_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/kestrelnet/linkrelay/internal/wire"
)

func ep(ip string, port uint16) wire.Endpoint {
	return wire.Endpoint{IP: net.ParseIP(ip), Port: port}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  wire.Packet
	}{
		{
			name: "request",
			pkt: wire.Packet{
				Priority: wire.PriorityHigh,
				Src:      ep("10.0.0.1", 5000),
				Dest:     ep("10.0.0.2", 6000),
				Type:     wire.Request,
				Seq:      0,
				Length:   5,
				Payload:  []byte("file.txt"),
			},
		},
		{
			name: "data",
			pkt: wire.Packet{
				Priority: wire.PriorityMedium,
				Src:      ep("192.168.1.10", 2050),
				Dest:     ep("192.168.1.20", 2051),
				Type:     wire.Data,
				Seq:      42,
				Length:   4,
				Payload:  []byte("HELO"),
			},
		},
		{
			name: "ack",
			pkt: wire.Packet{
				Priority: wire.PriorityLow,
				Src:      ep("10.1.1.1", 40000),
				Dest:     ep("10.1.1.2", 40001),
				Type:     wire.Ack,
				Seq:      7,
			},
		},
		{
			name: "end",
			pkt: wire.Packet{
				Priority: wire.PriorityHigh,
				Src:      ep("10.1.1.1", 40000),
				Dest:     ep("10.1.1.2", 40001),
				Type:     wire.End,
				Seq:      11,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := wire.Encode(&tc.pkt)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := wire.Decode(buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Priority != tc.pkt.Priority || got.Type != tc.pkt.Type ||
				got.Seq != tc.pkt.Seq || got.Length != tc.pkt.Length {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, tc.pkt)
			}
			if !got.Src.IP.Equal(tc.pkt.Src.IP) || got.Src.Port != tc.pkt.Src.Port {
				t.Fatalf("src mismatch: got %+v want %+v", got.Src, tc.pkt.Src)
			}
			if !got.Dest.IP.Equal(tc.pkt.Dest.IP) || got.Dest.Port != tc.pkt.Dest.Port {
				t.Fatalf("dest mismatch: got %+v want %+v", got.Dest, tc.pkt.Dest)
			}
			if !bytes.Equal(got.Payload, tc.pkt.Payload) {
				t.Fatalf("payload mismatch: got %q want %q", got.Payload, tc.pkt.Payload)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := wire.Decode(make([]byte, 25))
		if err != wire.ErrMalformedHeader {
			t.Fatalf("got %v, want ErrMalformedHeader", err)
		}
	})

	t.Run("bad type", func(t *testing.T) {
		pkt := wire.Packet{
			Priority: wire.PriorityHigh,
			Src:      ep("10.0.0.1", 1),
			Dest:     ep("10.0.0.2", 2),
			Type:     wire.Data,
		}
		buf, err := wire.Encode(&pkt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf[17] = 'X'
		if _, err := wire.Decode(buf); err != wire.ErrMalformedHeader {
			t.Fatalf("got %v, want ErrMalformedHeader", err)
		}
	})
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	pkt := wire.Packet{
		Priority: wire.PriorityHigh,
		Src:      ep("10.0.0.1", 1),
		Dest:     ep("10.0.0.2", 2),
		Type:     wire.Data,
		Payload:  make([]byte, wire.MaxDatagramLen),
	}
	if _, err := wire.Encode(&pkt); err != wire.ErrPayloadTooLong {
		t.Fatalf("got %v, want ErrPayloadTooLong", err)
	}
}

func TestOuterLength(t *testing.T) {
	pkt := wire.Packet{Payload: []byte("hello")}
	if got, want := pkt.OuterLength(), uint32(9+5); got != want {
		t.Fatalf("OuterLength() = %d, want %d", got, want)
	}
}
