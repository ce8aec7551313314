package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyMutation = errors.New("mutation has no columns")

// Mutation is a write of columns to one row.
type Mutation struct {
	Table   string   `json:"table"`
	Key     string   `json:"key"`
	Columns []Column `json:"columns"`
}

// Validate checks the mutation is addressable and non-empty.
func (m Mutation) Validate() error {
	if m.Table == "" || m.Key == "" {
		return fmt.Errorf("mutation requires table and key")
	}
	if len(m.Columns) == 0 {
		return ErrEmptyMutation
	}
	return nil
}

// Row converts the mutation into a row; later duplicates of a column name
// are merged by timestamp.
func (m Mutation) Row() *Row {
	r := NewRow(m.Table, m.Key)
	for _, c := range m.Columns {
		r.Merge(&Row{Columns: map[string]Column{c.Name: c}})
	}
	return r
}

// MutationFromRow builds a mutation carrying every column of r.
func MutationFromRow(r *Row) Mutation {
	return Mutation{Table: r.Table, Key: r.Key, Columns: r.SortedColumns()}
}

// ReadCommand addresses one row.
type ReadCommand struct {
	Table string `json:"table"`
	Key   string `json:"key"`
}

// ConsistencyLevel is the number of replica acknowledgements a request needs.
type ConsistencyLevel string

const (
	ConsistencyOne    ConsistencyLevel = "ONE"
	ConsistencyQuorum ConsistencyLevel = "QUORUM"
	ConsistencyAll    ConsistencyLevel = "ALL"
)

// ParseConsistencyLevel parses a level name; empty means ONE.
func ParseConsistencyLevel(s string) (ConsistencyLevel, error) {
	switch ConsistencyLevel(strings.ToUpper(s)) {
	case "", ConsistencyOne:
		return ConsistencyOne, nil
	case ConsistencyQuorum:
		return ConsistencyQuorum, nil
	case ConsistencyAll:
		return ConsistencyAll, nil
	default:
		return "", fmt.Errorf("unknown consistency level %q", s)
	}
}

// Required returns the acknowledgements needed out of replicas.
func (l ConsistencyLevel) Required(replicas int) int {
	switch l {
	case ConsistencyAll:
		return replicas
	case ConsistencyQuorum:
		return replicas/2 + 1
	default:
		return 1
	}
}
