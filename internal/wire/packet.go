// Copyright 2026 Kestrelnet. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the on-wire record format shared by the Emulator,
// Sender, and Requester: an outer link header, an inner transport header,
// and a payload.
//
// Layout (network byte order throughout):
//
//	outer header (17 bytes): priority:u8 src_ip:u32 src_port:u16 dest_ip:u32 dest_port:u16 outer_length:u32
//	inner header (9 bytes):  type:u8 seq_num:u32 length:u32
//	payload: outer_length - 9 bytes
package wire

import (
	"encoding/binary"
	"errors"
	"net"
)

// ErrMalformedHeader is returned by Decode when the input is too short to
// hold both headers, or the inner type byte is not one of R, D, A, E.
var ErrMalformedHeader = errors.New("wire: malformed header")

// ErrPayloadTooLong is returned by Encode when the payload would not fit in
// a single datagram, or by Decode when the outer_length field disagrees
// with the number of payload bytes actually present.
var ErrPayloadTooLong = errors.New("wire: payload too long")

const (
	outerHeaderLen = 17
	innerHeaderLen = 9
	minPacketLen   = outerHeaderLen + innerHeaderLen

	// MaxDatagramLen bounds the UDP receive buffer size used throughout the
	// system (§6): up to 5500 bytes per datagram.
	MaxDatagramLen = 5500
)

// Type is the inner header's single-byte packet type discriminator.
type Type byte

const (
	Request Type = 'R'
	Data    Type = 'D'
	Ack     Type = 'A'
	End     Type = 'E'
)

func (t Type) valid() bool {
	switch t {
	case Request, Data, Ack, End:
		return true
	default:
		return false
	}
}

// Priority is the outer header's forwarding priority. Only 1, 2, and 3 are
// meaningful; an ACK mirrors the priority of the packet it acknowledges.
type Priority uint8

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// Endpoint is a (host, port) pair resolved to its 4-byte IPv4 form for wire
// encoding. IPv6 is out of scope (spec.md §1 non-goals).
type Endpoint struct {
	IP   net.IP // must be a 4-byte (or 4-in-16) IPv4 address
	Port uint16
}

// Packet is the fully decoded, in-memory representation of one on-wire
// record.
type Packet struct {
	Priority Priority
	Src      Endpoint
	Dest     Endpoint

	Type   Type
	Seq    uint32
	Length uint32 // payload length for Data; window size for Request; 0 for Ack/End

	Payload []byte
}

// OuterLength returns the value the outer header's outer_length field must
// carry: the inner header length plus the payload length.
func (p *Packet) OuterLength() uint32 {
	return uint32(innerHeaderLen + len(p.Payload))
}

func ip4(ip net.IP) (uint32, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, errors.New("wire: address is not IPv4")
	}
	return binary.BigEndian.Uint32(v4), nil
}

// Encode serializes p into a fresh on-wire byte slice.
//
// Constraints: Priority must be 1, 2, or 3 (ACK callers should pass the
// priority of the packet being acknowledged). Type must be one of
// Request/Data/Ack/End. Src/Dest IPs must be IPv4.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Payload) > MaxDatagramLen-minPacketLen {
		return nil, ErrPayloadTooLong
	}
	srcIP, err := ip4(p.Src.IP)
	if err != nil {
		return nil, err
	}
	destIP, err := ip4(p.Dest.IP)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, minPacketLen+len(p.Payload))

	buf[0] = byte(p.Priority)
	binary.BigEndian.PutUint32(buf[1:5], srcIP)
	binary.BigEndian.PutUint16(buf[5:7], p.Src.Port)
	binary.BigEndian.PutUint32(buf[7:11], destIP)
	binary.BigEndian.PutUint16(buf[11:13], p.Dest.Port)
	binary.BigEndian.PutUint32(buf[13:17], p.OuterLength())

	inner := buf[outerHeaderLen:]
	inner[0] = byte(p.Type)
	binary.BigEndian.PutUint32(inner[1:5], p.Seq)
	binary.BigEndian.PutUint32(inner[5:9], p.Length)
	copy(inner[innerHeaderLen:], p.Payload)

	return buf, nil
}

// Decode parses a received datagram into a Packet. buf must be between 26
// and MaxDatagramLen bytes; anything shorter is ErrMalformedHeader, as is an
// unrecognized inner type byte.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < minPacketLen || len(buf) > MaxDatagramLen {
		return nil, ErrMalformedHeader
	}

	p := &Packet{
		Priority: Priority(buf[0]),
		Src: Endpoint{
			IP:   net.IPv4(buf[1], buf[2], buf[3], buf[4]),
			Port: binary.BigEndian.Uint16(buf[5:7]),
		},
		Dest: Endpoint{
			IP:   net.IPv4(buf[7], buf[8], buf[9], buf[10]),
			Port: binary.BigEndian.Uint16(buf[11:13]),
		},
	}
	outerLength := binary.BigEndian.Uint32(buf[13:17])

	inner := buf[outerHeaderLen:]
	p.Type = Type(inner[0])
	if !p.Type.valid() {
		return nil, ErrMalformedHeader
	}
	p.Seq = binary.BigEndian.Uint32(inner[1:5])
	p.Length = binary.BigEndian.Uint32(inner[5:9])

	payload := buf[minPacketLen:]
	if outerLength != uint32(innerHeaderLen+len(payload)) {
		return nil, ErrPayloadTooLong
	}
	if len(payload) > 0 {
		p.Payload = append([]byte(nil), payload...)
	}

	return p, nil
}
