package domain

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Column is a named, timestamped cell. Deleted columns are tombstones.
type Column struct {
	Name      string `json:"name"`
	Value     []byte `json:"value,omitempty"`
	Timestamp int64  `json:"ts"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// newerThan decides which of two versions of the same column survives a merge.
func (c Column) newerThan(other Column) bool {
	if c.Timestamp != other.Timestamp {
		return c.Timestamp > other.Timestamp
	}
	if c.Deleted != other.Deleted {
		return c.Deleted
	}
	return bytes.Compare(c.Value, other.Value) > 0
}

// Row is the set of columns stored under one key of one table.
type Row struct {
	Table   string            `json:"table"`
	Key     string            `json:"key"`
	Columns map[string]Column `json:"columns"`
}

// NewRow creates an empty row.
func NewRow(table, key string) *Row {
	return &Row{Table: table, Key: key, Columns: make(map[string]Column)}
}

// Clone returns a deep copy.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	out := NewRow(r.Table, r.Key)
	for name, c := range r.Columns {
		c.Value = append([]byte(nil), c.Value...)
		out.Columns[name] = c
	}
	return out
}

// Merge folds other into r column by column, keeping the newest version of
// each column. It reports whether r changed.
func (r *Row) Merge(other *Row) bool {
	if other == nil {
		return false
	}
	if r.Columns == nil {
		r.Columns = make(map[string]Column, len(other.Columns))
	}
	changed := false
	for name, c := range other.Columns {
		cur, ok := r.Columns[name]
		if !ok || c.newerThan(cur) {
			c.Value = append([]byte(nil), c.Value...)
			r.Columns[name] = c
			changed = true
		}
	}
	return changed
}

// SortedColumns returns the columns ordered by name.
func (r *Row) SortedColumns() []Column {
	out := make([]Column, 0, len(r.Columns))
	for _, c := range r.Columns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Digest is a hash of the row content used to compare replicas cheaply.
func (r *Row) Digest() uint64 {
	if r == nil {
		return 0
	}
	h := xxhash.New()
	var buf [8]byte
	for _, c := range r.SortedColumns() {
		_, _ = h.WriteString(c.Name)
		_, _ = h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], uint64(c.Timestamp))
		_, _ = h.Write(buf[:])
		if c.Deleted {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
		binary.BigEndian.PutUint64(buf[:], uint64(len(c.Value)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write(c.Value)
	}
	return h.Sum64()
}

// Delta returns the columns of r that replica is missing or holds an older
// version of, or nil when replica is up to date.
func (r *Row) Delta(replica *Row) *Row {
	var out *Row
	for name, c := range r.Columns {
		var cur Column
		var ok bool
		if replica != nil {
			cur, ok = replica.Columns[name]
		}
		if ok && !c.newerThan(cur) {
			continue
		}
		if out == nil {
			out = NewRow(r.Table, r.Key)
		}
		out.Columns[name] = c
	}
	return out
}

// IsEmpty reports whether the row has no columns.
func (r *Row) IsEmpty() bool {
	return r == nil || len(r.Columns) == 0
}
