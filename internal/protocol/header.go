// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderSize is the on-wire size of a MessageHeader: 4 magic + 12
// command + 4 length + 4 checksum.
const HeaderSize = 24

// CommandSize is the fixed, NUL-padded width of the command field.
const CommandSize = wire.CommandSize

// Magic is the mainnet network magic. It reuses btcd's own mainnet
// constant rather than declaring a new one, since it is the same four
// bytes (little-endian F9 BE B4 D9) spec.md requires.
const Magic = wire.MainNet

var (
	// ErrBadMagic is returned when a frame's magic does not match Magic.
	ErrBadMagic = errors.New("protocol: bad magic")
	// ErrBadChecksum is returned when a frame's checksum does not match
	// its payload.
	ErrBadChecksum = errors.New("protocol: bad checksum")
	// ErrTruncatedHeader is returned when fewer than HeaderSize bytes
	// are available to decode a header.
	ErrTruncatedHeader = errors.New("protocol: truncated header")
)

// MessageHeader is the 24-byte frame header preceding every payload.
type MessageHeader struct {
	Magic    wire.BitcoinNet
	Command  string
	Length   uint32
	Checksum [4]byte
}

// Checksum4 computes the first four bytes of the double-SHA-256 of
// payload, the checksum carried in every MessageHeader.
func Checksum4(payload []byte) [4]byte {
	sum := chainhash.DoubleHashB(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// EncodeFrame serialises a full frame: header followed by payload.
func EncodeFrame(command string, payload []byte) ([]byte, error) {
	if len(command) > CommandSize {
		return nil, fmt.Errorf("protocol: command %q exceeds %d bytes", command, CommandSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(Magic))
	copy(buf[4:16], command) // remaining bytes stay zero (NUL padding)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	checksum := Checksum4(payload)
	copy(buf[20:24], checksum[:])
	copy(buf[24:], payload)

	return buf, nil
}

// DecodeHeader parses a 24-byte MessageHeader. The command is trimmed
// of trailing NULs.
func DecodeHeader(data []byte) (*MessageHeader, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncatedHeader
	}

	magic := wire.BitcoinNet(binary.LittleEndian.Uint32(data[0:4]))
	if magic != Magic {
		return nil, ErrBadMagic
	}

	// find the NUL terminator within the 12-byte command field
	cmdEnd := 0
	for cmdEnd < CommandSize && data[4+cmdEnd] != 0 {
		cmdEnd++
	}
	command := string(data[4 : 4+cmdEnd])

	length := binary.LittleEndian.Uint32(data[16:20])

	var checksum [4]byte
	copy(checksum[:], data[20:24])

	return &MessageHeader{
		Magic:    magic,
		Command:  command,
		Length:   length,
		Checksum: checksum,
	}, nil
}

// ReadFrame reads one full frame (header + payload) from r, verifying
// the magic and checksum. It allocates a payload buffer of exactly the
// declared length before reading it.
func ReadFrame(r io.Reader) (*MessageHeader, []byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, nil, err
	}
	h, err := DecodeHeader(hdr)
	if err != nil {
		return nil, nil, err
	}

	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, err
		}
	}

	checksum := Checksum4(payload)
	if checksum != h.Checksum {
		return nil, nil, ErrBadChecksum
	}

	return h, payload, nil
}
