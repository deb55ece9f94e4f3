// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// InventoryKind identifies the content type carried by an InventoryItem.
type InventoryKind uint32

const (
	InvError                 InventoryKind = 0
	InvTx                    InventoryKind = 1
	InvBlock                 InventoryKind = 2
	InvFilteredBlock         InventoryKind = 3
	InvCompactBlock          InventoryKind = 4
	InvWitnessTx             InventoryKind = 0x40000001
	InvWitnessBlock          InventoryKind = 0x40000002
	InvFilteredWitnessBlock  InventoryKind = 0x40000003
)

// InventoryKindFromUint32 maps a raw wire value to an InventoryKind.
// Any code this client does not recognise decodes to InvError, per
// spec.md §3 — this is the single authoritative mapping (the original
// declared this table twice with a divergent fallback; see DESIGN.md).
func InventoryKindFromUint32(v uint32) InventoryKind {
	switch InventoryKind(v) {
	case InvTx, InvBlock, InvFilteredBlock, InvCompactBlock,
		InvWitnessTx, InvWitnessBlock, InvFilteredWitnessBlock:
		return InventoryKind(v)
	default:
		return InvError
	}
}

// InventoryItem is a 36-byte (kind, hash) tuple as exchanged in inv
// and getdata payloads.
type InventoryItem struct {
	Kind InventoryKind
	Hash chainhash.Hash
}

// HashDisplay renders the item's hash in Bitcoin's byte-reversed
// convention. chainhash.Hash.String() already does this, so this is
// just a thin, explicit alias kept for call sites that want to log
// only the hash.
func (i InventoryItem) HashDisplay() string {
	return i.Hash.String()
}

const inventoryItemSize = 4 + chainhash.HashSize

// DecodeInventoryItems decodes count items starting at offset 0 of
// payload. It stops cleanly (without error) if remaining bytes are
// insufficient for the declared count, per spec.md §4.1.
func DecodeInventoryItems(payload []byte) []InventoryItem {
	if len(payload) == 0 {
		return nil
	}

	count, offset := CompactSize(payload)
	if count == 0 {
		return nil
	}

	items := make([]InventoryItem, 0, count)
	for i := uint64(0); i < count; i++ {
		if offset+inventoryItemSize > len(payload) {
			break
		}

		kind := InventoryKindFromUint32(binary.LittleEndian.Uint32(payload[offset : offset+4]))
		var hash chainhash.Hash
		copy(hash[:], payload[offset+4:offset+inventoryItemSize])

		items = append(items, InventoryItem{Kind: kind, Hash: hash})
		offset += inventoryItemSize
	}

	return items
}

// EncodeInventoryItems encodes items as an inv/getdata payload body
// (compact-size count followed by count * 36 bytes).
func EncodeInventoryItems(items []InventoryItem) []byte {
	out := PutCompactSize(uint64(len(items)))
	for _, it := range items {
		var kindBytes [4]byte
		binary.LittleEndian.PutUint32(kindBytes[:], uint32(it.Kind))
		out = append(out, kindBytes[:]...)
		out = append(out, it.Hash[:]...)
	}
	return out
}
