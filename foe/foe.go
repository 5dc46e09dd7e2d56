// Package foe implements File access over EtherCAT (FoE): firmware/file
// transfer to and from a SubDevice via its mailbox, used at configuration
// time rather than during cyclic operation.
package foe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rolfl/ethercat"
)

const mailboxHeaderLen = 6
const foeHeaderLen = 2

const (
	mailboxTypeFoE = 0x04

	opRRQ  = 1 // read request
	opWRQ  = 2 // write request
	opDATA = 3
	opACK  = 4
	opERR  = 5
	opBUSY = 6
)

// maxSegment is the largest FoE data segment this client requests per
// DATA packet; SubDevices commonly cap mailbox size well below this, the
// negotiated mailbox length (mbxOutLen) is the real ceiling.
const maxSegment = 512

// Client performs FoE file reads and writes against one SubDevice.
type Client struct {
	loop      *ethercat.PduLoop
	address   ethercat.Address
	mbxOut    uint16
	mbxIn     uint16
	mbxOutLen uint16
	mbxInLen  uint16
	counter   uint8
}

// New constructs a Client for the SubDevice at station.
func New(loop *ethercat.PduLoop, station uint16, mbxOut, mbxOutLen, mbxIn, mbxInLen uint16) *Client {
	return &Client{
		loop:      loop,
		address:   ethercat.StationAddress(station, 0),
		mbxOut:    mbxOut,
		mbxIn:     mbxIn,
		mbxOutLen: mbxOutLen,
		mbxInLen:  mbxInLen,
	}
}

func (c *Client) nextCounter() uint8 {
	c.counter++
	if c.counter == 0 || c.counter > 7 {
		c.counter = 1
	}
	return c.counter
}

// WriteFile transfers data to the SubDevice under the given filename,
// segmenting it into DATA packets no larger than the negotiated mailbox
// size and waiting for an ACK after every segment.
func (c *Client) WriteFile(ctx context.Context, filename string, data []byte) error {
	if err := c.sendWRQ(ctx, filename); err != nil {
		return err
	}
	if err := c.expectACK(ctx, 0); err != nil {
		return err
	}

	segment := c.segmentSize()
	for packet := uint32(1); ; packet++ {
		n := segment
		last := false
		if n >= len(data) {
			n = len(data)
			last = true
		}
		if err := c.sendData(ctx, packet, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if err := c.expectACK(ctx, packet); err != nil {
			return err
		}
		if last {
			return nil
		}
	}
}

// ReadFile requests the named file from the SubDevice and accumulates
// DATA segments until one shorter than a full mailbox is received.
func (c *Client) ReadFile(ctx context.Context, filename string) ([]byte, error) {
	if err := c.sendRRQ(ctx, filename); err != nil {
		return nil, err
	}

	var out []byte
	segment := c.segmentSize()
	for packet := uint32(1); ; packet++ {
		data, err := c.expectData(ctx, packet)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		if err := c.sendACK(ctx, packet); err != nil {
			return nil, err
		}
		if len(data) < segment {
			return out, nil
		}
	}
}

func (c *Client) segmentSize() int {
	n := int(c.mbxOutLen) - mailboxHeaderLen - foeHeaderLen - 6
	if n > maxSegment {
		n = maxSegment
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (c *Client) sendWRQ(ctx context.Context, filename string) error {
	return c.sendFilenamePacket(ctx, opWRQ, filename)
}

func (c *Client) sendRRQ(ctx context.Context, filename string) error {
	return c.sendFilenamePacket(ctx, opRRQ, filename)
}

func (c *Client) sendFilenamePacket(ctx context.Context, op uint8, filename string) error {
	payload := 6 + len(filename)
	frame := make([]byte, mailboxHeaderLen+foeHeaderLen+payload)
	c.writeMailboxHeader(frame, uint16(foeHeaderLen+payload))
	frame[mailboxHeaderLen] = op
	binary.LittleEndian.PutUint32(frame[mailboxHeaderLen+foeHeaderLen+2:], 0) // password
	copy(frame[mailboxHeaderLen+foeHeaderLen+6:], filename)
	return c.write(ctx, frame)
}

func (c *Client) sendData(ctx context.Context, packet uint32, data []byte) error {
	frame := make([]byte, mailboxHeaderLen+foeHeaderLen+6+len(data))
	c.writeMailboxHeader(frame, uint16(foeHeaderLen+6+len(data)))
	frame[mailboxHeaderLen] = opDATA
	binary.LittleEndian.PutUint32(frame[mailboxHeaderLen+foeHeaderLen+2:], packet)
	copy(frame[mailboxHeaderLen+foeHeaderLen+6:], data)
	return c.write(ctx, frame)
}

func (c *Client) sendACK(ctx context.Context, packet uint32) error {
	frame := make([]byte, mailboxHeaderLen+foeHeaderLen+6)
	c.writeMailboxHeader(frame, uint16(foeHeaderLen+6))
	frame[mailboxHeaderLen] = opACK
	binary.LittleEndian.PutUint32(frame[mailboxHeaderLen+foeHeaderLen+2:], packet)
	return c.write(ctx, frame)
}

func (c *Client) expectACK(ctx context.Context, packet uint32) error {
	resp, err := c.read(ctx)
	if err != nil {
		return err
	}
	return checkOp(resp, opACK, packet)
}

func (c *Client) expectData(ctx context.Context, packet uint32) ([]byte, error) {
	resp, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkOp(resp, opDATA, packet); err != nil {
		return nil, err
	}
	return resp[mailboxHeaderLen+foeHeaderLen+6:], nil
}

func checkOp(resp []byte, want uint8, packet uint32) error {
	if len(resp) < mailboxHeaderLen+foeHeaderLen+6 {
		return fmt.Errorf("foe: short response")
	}
	op := resp[mailboxHeaderLen]
	if op == opERR {
		code := binary.LittleEndian.Uint32(resp[mailboxHeaderLen+foeHeaderLen+2:])
		return fmt.Errorf("foe: error 0x%08x", code)
	}
	if op != want {
		return fmt.Errorf("foe: expected opcode %d, got %d", want, op)
	}
	got := binary.LittleEndian.Uint32(resp[mailboxHeaderLen+foeHeaderLen+2:])
	if want == opACK && got != packet {
		return fmt.Errorf("foe: expected ACK for packet %d, got %d", packet, got)
	}
	return nil
}

func (c *Client) writeMailboxHeader(frame []byte, dataLen uint16) {
	binary.LittleEndian.PutUint16(frame[0:2], dataLen)
	binary.LittleEndian.PutUint16(frame[2:4], 0)
	frame[4] = c.nextCounter()<<4 | uint8(mailboxTypeFoE)
	frame[5] = 0
}

func (c *Client) write(ctx context.Context, data []byte) error {
	addr := c.address
	addr.Offset = c.mbxOut
	handle, err := c.loop.AllocFrame()
	if err != nil {
		return err
	}
	defer c.loop.Release(handle)

	pdu, err := c.loop.PushPDU(handle, ethercat.FPWR, addr, len(data), func(buf []byte) {
		copy(buf, data)
	})
	if err != nil {
		return err
	}
	if err := c.loop.MarkSendable(handle); err != nil {
		return err
	}
	resp, err := c.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return err
	}
	_, err = resp.ExpectWorkingCounter(pdu, 1)
	return err
}

func (c *Client) read(ctx context.Context) ([]byte, error) {
	addr := c.address
	addr.Offset = c.mbxIn
	handle, err := c.loop.AllocFrame()
	if err != nil {
		return nil, err
	}
	defer c.loop.Release(handle)

	pdu, err := c.loop.PushPDU(handle, ethercat.FPRD, addr, int(c.mbxInLen), nil)
	if err != nil {
		return nil, err
	}
	if err := c.loop.MarkSendable(handle); err != nil {
		return nil, err
	}
	resp, err := c.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return nil, err
	}
	data, err := resp.ExpectWorkingCounter(pdu, 1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
