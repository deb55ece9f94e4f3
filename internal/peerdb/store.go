// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package peerdb

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
)

// DefaultPath is the default on-disk location of the peer database.
const DefaultPath = "peers.json"

type fileAddress struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

type fileRecord struct {
	Address       fileAddress `json:"address"`
	LastSeen      *int64      `json:"last_seen,omitempty"`
	LastConnected *int64      `json:"last_connected,omitempty"`
	Status        string      `json:"status"`
	Services      *uint64     `json:"services,omitempty"`
}

type fileDatabase struct {
	Peers map[string]fileRecord `json:"peers"`
}

func addressKey(a Address) string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

func toFile(d *Database) fileDatabase {
	out := fileDatabase{Peers: make(map[string]fileRecord, len(d.Peers))}
	for addr, rec := range d.Peers {
		fr := fileRecord{
			Address: fileAddress{IP: addr.IP, Port: addr.Port},
			Status:  rec.Status.String(),
			Services: rec.Services,
		}
		if rec.LastSeen != 0 {
			ls := rec.LastSeen
			fr.LastSeen = &ls
		}
		if rec.LastConnected != 0 {
			lc := rec.LastConnected
			fr.LastConnected = &lc
		}
		out.Peers[addressKey(addr)] = fr
	}
	return out
}

func fromFile(fd fileDatabase) *Database {
	d := New()
	for _, fr := range fd.Peers {
		status, err := ParseStatus(fr.Status)
		if err != nil {
			continue // malformed row; drop it rather than fail the whole load
		}
		addr := Address{IP: fr.Address.IP, Port: fr.Address.Port}
		rec := Record{Address: addr, Status: status, Services: fr.Services}
		if fr.LastSeen != nil {
			rec.LastSeen = *fr.LastSeen
		}
		if fr.LastConnected != nil {
			rec.LastConnected = *fr.LastConnected
		}
		d.Peers[addr] = rec
	}
	return d
}

// Load reads the database from path. A missing or malformed file is
// not an error: the caller gets an empty Database, per spec.md §4.3
// ("no error is surfaced").
func Load(path string) *Database {
	data, err := os.ReadFile(path)
	if err != nil {
		return New()
	}

	var fd fileDatabase
	if err := json.Unmarshal(data, &fd); err != nil {
		return New()
	}

	return fromFile(fd)
}

// Save truncates and rewrites path with the full current contents of
// d. This is always a full rewrite, never an incremental append, per
// spec.md §3's PeerDatabase invariant.
func Save(path string, d *Database) error {
	fd := toFile(d)
	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}
