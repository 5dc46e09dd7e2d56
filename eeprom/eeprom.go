// Package eeprom decodes the Slave Information Interface (SII) EEPROM
// image read from a SubDevice during discovery: the fixed category at
// words 0x0000-0x003F plus the variable-length category list that follows
// it (ETG.1000-6 table 17).
package eeprom

import "encoding/binary"

// category codes, ETG.1000-6 table 19.
const (
	categoryStrings   = 10
	categoryGeneral   = 30
	categorySyncM     = 41
	categoryEnd       = 0xffff
)

// Info is the decoded fixed category: vendor/product identification and
// the mailbox protocol support bitmask every SII image starts with.
type Info struct {
	PDIControl     uint16
	PDIConfig      uint16
	SyncImpulseLen uint16
	VendorID       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
	BootMailboxOut uint16
	BootMailboxIn  uint16
	StdMailboxOut  uint16
	StdMailboxIn   uint16
	MailboxProtocol uint16
}

// Strings is the decoded string category (category code 10): a list of
// null-padded, length-prefixed strings referenced by index from other
// categories (e.g. vendor name, product name).
type Strings []string

// Image is a fully decoded SII EEPROM image.
type Image struct {
	Info    Info
	Strings Strings
}

// word reads a little-endian 16-bit word at the given word offset (the SII
// image is addressed in 16-bit words, not bytes).
func word(data []byte, wordOffset int) uint16 {
	b := wordOffset * 2
	return binary.LittleEndian.Uint16(data[b : b+2])
}

func dword(data []byte, wordOffset int) uint32 {
	b := wordOffset * 2
	return binary.LittleEndian.Uint32(data[b : b+4])
}

// Parse decodes a raw SII EEPROM dump supplied by the caller; this module
// has no code that reads the EEPROM from a SubDevice.
func Parse(data []byte) (Image, error) {
	if len(data) < 0x80 {
		return Image{}, errShortImage(len(data))
	}

	img := Image{Info: Info{
		PDIControl:      word(data, 0x00),
		PDIConfig:       word(data, 0x01),
		SyncImpulseLen:  word(data, 0x02),
		VendorID:        dword(data, 0x08),
		ProductCode:     dword(data, 0x0a),
		RevisionNumber:  dword(data, 0x0c),
		SerialNumber:    dword(data, 0x0e),
		BootMailboxOut:  word(data, 0x14),
		BootMailboxIn:   word(data, 0x16),
		StdMailboxOut:   word(data, 0x18),
		StdMailboxIn:    word(data, 0x1a),
		MailboxProtocol: word(data, 0x1c),
	}}

	img.Strings = parseCategories(data[0x80:])
	return img, nil
}

// parseCategories walks the variable-length category list that follows the
// fixed 128-byte header, stopping at the End category or when the data
// runs out. Only the Strings category is decoded today; unrecognized
// categories are skipped using their declared word length so later
// categories (General, SyncManager, FMMU, PDO) remain reachable even
// though this package does not parse them yet.
func parseCategories(data []byte) Strings {
	var strs Strings
	offset := 0
	for offset+4 <= len(data) {
		code := word(data, offset/2)
		length := int(word(data, offset/2+1)) * 2
		offset += 4
		if code == categoryEnd {
			break
		}
		if offset+length > len(data) {
			break
		}
		if code == categoryStrings {
			strs = parseStrings(data[offset : offset+length])
		}
		offset += length
	}
	return strs
}

func parseStrings(data []byte) Strings {
	if len(data) == 0 {
		return nil
	}
	count := int(data[0])
	strs := make(Strings, 0, count)
	pos := 1
	for i := 0; i < count && pos < len(data); i++ {
		n := int(data[pos])
		pos++
		if pos+n > len(data) {
			break
		}
		strs = append(strs, string(data[pos:pos+n]))
		pos += n
	}
	return strs
}
