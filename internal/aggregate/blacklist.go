package aggregate

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Blacklist filters out advertiser pages by id or name. Name matching is
// case-insensitive.
type Blacklist struct {
	ids   map[string]struct{}
	names map[string]struct{}
}

// NewBlacklist creates an empty blacklist
func NewBlacklist() *Blacklist {
	return &Blacklist{
		ids:   make(map[string]struct{}),
		names: make(map[string]struct{}),
	}
}

// AddID blacklists a page id
func (b *Blacklist) AddID(pageID string) {
	pageID = strings.TrimSpace(pageID)
	if pageID != "" {
		b.ids[pageID] = struct{}{}
	}
}

// AddName blacklists a page name
func (b *Blacklist) AddName(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		b.names[name] = struct{}{}
	}
}

// Contains reports whether a page is blacklisted by id or name
func (b *Blacklist) Contains(pageID, pageName string) bool {
	if _, ok := b.ids[strings.TrimSpace(pageID)]; ok {
		return true
	}
	_, ok := b.names[strings.ToLower(strings.TrimSpace(pageName))]
	return ok
}

// Len returns the total number of blacklist entries
func (b *Blacklist) Len() int {
	return len(b.ids) + len(b.names)
}

// LoadBlacklistCSV reads a semicolon-delimited CSV with page_id and
// page_name columns. A missing file yields an empty blacklist, not an error.
func LoadBlacklistCSV(path string) (*Blacklist, error) {
	bl := NewBlacklist()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bl, nil
		}
		return nil, fmt.Errorf("failed to open blacklist: %w", err)
	}
	defer f.Close()

	if err := bl.ReadCSV(f); err != nil {
		return nil, fmt.Errorf("failed to read blacklist %s: %w", path, err)
	}
	return bl, nil
}

// ReadCSV parses semicolon-delimited blacklist rows from r
func (b *Blacklist) ReadCSV(r io.Reader) error {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}

	idCol, nameCol := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.ToLower(col)) {
		case "page_id":
			idCol = i
		case "page_name":
			nameCol = i
		}
	}
	if idCol < 0 && nameCol < 0 {
		return fmt.Errorf("blacklist header needs page_id or page_name column")
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if idCol >= 0 && idCol < len(row) {
			b.AddID(row[idCol])
		}
		if nameCol >= 0 && nameCol < len(row) {
			b.AddName(row[nameCol])
		}
	}
}
