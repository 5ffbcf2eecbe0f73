// Package oui maps MAC vendor prefixes to manufacturer names using the IEEE
// oui.txt registry. A Database is read-only once loaded.
package oui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"flockwatch/internal/model"
)

const Unknown = "Unknown Manufacturer"

type Entry struct {
	Prefix       string `json:"mac_prefix"`
	Manufacturer string `json:"manufacturer"`
}

type Database struct {
	byPrefix map[string]string
	entries  []Entry
}

func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	db, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return db, nil
}

// Parse reads "(hex)" lines such as
//
//	28-6F-B9   (hex)		Nokia Shanghai Bell Co., Ltd.
//
// and ignores everything else. Later duplicates of a prefix win.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{byPrefix: make(map[string]string)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		left, right, ok := strings.Cut(line, "(hex)")
		if !ok {
			continue
		}
		prefix, ok := normalizePrefix(left)
		name := strings.TrimSpace(right)
		if !ok || name == "" {
			continue
		}
		db.byPrefix[prefix] = name
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	db.entries = make([]Entry, 0, len(db.byPrefix))
	for p, name := range db.byPrefix {
		db.entries = append(db.entries, Entry{Prefix: p, Manufacturer: name})
	}
	sort.Slice(db.entries, func(i, j int) bool { return db.entries[i].Prefix < db.entries[j].Prefix })
	return db, nil
}

func (db *Database) Len() int {
	if db == nil {
		return 0
	}
	return len(db.byPrefix)
}

// Lookup returns the manufacturer registered for the first three octets of
// mac, which may be a full address or a bare prefix in any common notation.
func (db *Database) Lookup(mac string) (string, bool) {
	if db == nil {
		return "", false
	}
	prefix, ok := normalizePrefix(mac)
	if !ok {
		return "", false
	}
	name, ok := db.byPrefix[prefix]
	return name, ok
}

// LookupMAC is Lookup for a parsed address.
func (db *Database) LookupMAC(mac model.MAC) (string, bool) {
	if db == nil {
		return "", false
	}
	name, ok := db.byPrefix[mac.Prefix()]
	return name, ok
}

// Search matches query as a prefix when it starts with six hex digits and
// as a case-insensitive manufacturer substring otherwise. An empty query
// lists every entry. limit <= 0 means no limit.
func (db *Database) Search(query string, limit int) []Entry {
	out := make([]Entry, 0)
	if db == nil {
		return out
	}
	query = strings.TrimSpace(query)
	if prefix, ok := normalizePrefix(query); ok {
		if name, found := db.byPrefix[prefix]; found {
			out = append(out, Entry{Prefix: prefix, Manufacturer: name})
		}
		return out
	}
	lower := strings.ToLower(query)
	for _, e := range db.entries {
		if lower != "" && !strings.Contains(strings.ToLower(e.Manufacturer), lower) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// normalizePrefix keeps the first six hex digits of s, ignoring ':', '-',
// '.' and spaces, and formats them as lowercase colon-hex.
func normalizePrefix(s string) (string, bool) {
	var hex [6]byte
	n := 0
	for i := 0; i < len(s) && n < 6; i++ {
		c := s[i]
		switch {
		case c == ':' || c == '-' || c == '.' || c == ' ' || c == '\t':
			continue
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			hex[n] = c
		case c >= 'A' && c <= 'F':
			hex[n] = c + ('a' - 'A')
		default:
			return "", false
		}
		n++
	}
	if n < 6 {
		return "", false
	}
	return string(hex[0:2]) + ":" + string(hex[2:4]) + ":" + string(hex[4:6]), true
}
