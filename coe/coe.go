// Package coe implements CAN application protocol over EtherCAT (CoE): SDO
// upload and download of object dictionary entries via the SubDevice's
// mailbox: an FPWR PDU to its mailbox-out offset, then an FPRD PDU from its
// mailbox-in offset.
package coe

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rolfl/ethercat"
)

// mailbox header, ETG.1000-6 table 29.
const mailboxHeaderLen = 6

// coeHeaderLen is the 2-byte CoE service header that follows the mailbox
// header for every CoE service.
const coeHeaderLen = 2

const sdoHeaderLen = 8

type mailboxType uint8

const (
	mailboxTypeCoE mailboxType = 0x03
)

const (
	coeServiceSDORequest  = 2
	coeServiceSDOResponse = 3
)

const (
	sdoCommandDownloadExpedited = 0x23
	sdoCommandDownloadResponse  = 0x60
	sdoCommandUploadRequest     = 0x40
	sdoCommandUploadExpedited   = 0x4f
)

// Client performs acyclic SDO reads and writes against one SubDevice's
// object dictionary.
type Client struct {
	loop      *ethercat.PduLoop
	address   ethercat.Address
	mbxOut    uint16
	mbxIn     uint16
	mbxOutLen uint16
	mbxInLen  uint16
	counter   uint8
}

// New constructs a Client for the SubDevice at station, using the mailbox
// out/in offsets and sizes of its standard mailbox. eeprom.Info's
// StdMailboxOut/StdMailboxIn supply the offsets; eeprom.Info does not decode
// the mailbox sizes.
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

// DownloadExpedited writes up to 4 bytes of data to the object dictionary
// entry at index/subindex (an "expedited" SDO download, the fast path for
// values that fit inline in the SDO header).
func (c *Client) DownloadExpedited(ctx context.Context, index uint16, subIndex uint8, data []byte) error {
	if len(data) > 4 {
		return fmt.Errorf("coe: expedited download data must be at most 4 bytes, got %d", len(data))
	}
	frame := make([]byte, mailboxHeaderLen+coeHeaderLen+sdoHeaderLen)
	c.writeMailboxHeader(frame, uint16(coeHeaderLen+sdoHeaderLen), coeServiceSDORequest)

	sizeBits := uint8(4-len(data)) << 2
	cmd := sdoCommandDownloadExpedited | 0x01 | sizeBits // size-indicated + expedited
	frame[mailboxHeaderLen+coeHeaderLen] = cmd
	binary.LittleEndian.PutUint16(frame[mailboxHeaderLen+coeHeaderLen+1:], index)
	frame[mailboxHeaderLen+coeHeaderLen+3] = subIndex
	copy(frame[mailboxHeaderLen+coeHeaderLen+4:], data)

	resp, err := c.exchange(ctx, frame)
	if err != nil {
		return err
	}
	if len(resp) < mailboxHeaderLen+coeHeaderLen+1 {
		return fmt.Errorf("coe: short SDO download response")
	}
	if resp[mailboxHeaderLen+coeHeaderLen]&0xe0 != sdoCommandDownloadResponse {
		return decodeAbort(resp)
	}
	return nil
}

// UploadExpedited reads an object dictionary entry expected to fit in 4
// bytes or fewer, returning exactly the number of bytes the SubDevice
// reports.
func (c *Client) UploadExpedited(ctx context.Context, index uint16, subIndex uint8) ([]byte, error) {
	frame := make([]byte, mailboxHeaderLen+coeHeaderLen+sdoHeaderLen)
	c.writeMailboxHeader(frame, uint16(coeHeaderLen+sdoHeaderLen), coeServiceSDORequest)

	frame[mailboxHeaderLen+coeHeaderLen] = sdoCommandUploadRequest
	binary.LittleEndian.PutUint16(frame[mailboxHeaderLen+coeHeaderLen+1:], index)
	frame[mailboxHeaderLen+coeHeaderLen+3] = subIndex

	resp, err := c.exchange(ctx, frame)
	if err != nil {
		return nil, err
	}
	if len(resp) < mailboxHeaderLen+coeHeaderLen+sdoHeaderLen {
		return nil, fmt.Errorf("coe: short SDO upload response")
	}
	cmd := resp[mailboxHeaderLen+coeHeaderLen]
	if cmd&0xe0 != sdoCommandUploadExpedited&0xe0 {
		return nil, decodeAbort(resp)
	}
	size := 4 - int(cmd>>2&0x3)
	return resp[mailboxHeaderLen+coeHeaderLen+4 : mailboxHeaderLen+coeHeaderLen+4+size], nil
}

func (c *Client) writeMailboxHeader(frame []byte, dataLen uint16, service uint8) {
	binary.LittleEndian.PutUint16(frame[0:2], dataLen)
	binary.LittleEndian.PutUint16(frame[2:4], 0) // mailbox address/reserved
	frame[4] = c.nextCounter()<<4 | uint8(mailboxTypeCoE)
	frame[5] = 0 // reserved
	binary.LittleEndian.PutUint16(frame[mailboxHeaderLen:mailboxHeaderLen+coeHeaderLen], uint16(service)<<12)
}

// exchange writes request to the SubDevice's mailbox-out, then reads
// mailbox-in for the matching response. Mailbox traffic is carried as an
// FPWR to mbxOut followed by an FPRD from mbxIn, each its own PDU exchange
// through the PDU loop.
func (c *Client) exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := c.write(ctx, request); err != nil {
		return nil, err
	}
	return c.read(ctx)
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

func decodeAbort(resp []byte) error {
	if len(resp) < mailboxHeaderLen+coeHeaderLen+8 {
		return fmt.Errorf("coe: SDO abort with truncated detail")
	}
	code := binary.LittleEndian.Uint32(resp[mailboxHeaderLen+coeHeaderLen+4:])
	return fmt.Errorf("coe: SDO abort, code 0x%08x", code)
}
