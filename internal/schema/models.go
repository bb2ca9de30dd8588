package schema

import (
	"fmt"
	"strings"
)

// TableDescriptor is everything the replicator needs to rebuild one table
type TableDescriptor struct {
	Name       string
	DDL        string
	PrimaryKey []string
	// Columns lists the columns that accept values, in table order.
	// Generated columns are computed by the server and left out.
	Columns []string
}

// HasPrimaryKey reports whether rows can be read in a deterministic order
func (t *TableDescriptor) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}

// Validate checks the descriptor is usable
func (t *TableDescriptor) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if strings.TrimSpace(t.DDL) == "" {
		return fmt.Errorf("table %s has no DDL", t.Name)
	}
	return nil
}

// Snapshot is the catalog of one database as seen at the start of a run:
// table name to descriptor, plus the enumeration order.
type Snapshot struct {
	Database string
	order    []string
	tables   map[string]*TableDescriptor
}

// NewSnapshot creates an empty snapshot
func NewSnapshot(database string) *Snapshot {
	return &Snapshot{
		Database: database,
		tables:   make(map[string]*TableDescriptor),
	}
}

// Add appends a descriptor; re-adding a name replaces it in place
func (s *Snapshot) Add(table *TableDescriptor) {
	if _, exists := s.tables[table.Name]; !exists {
		s.order = append(s.order, table.Name)
	}
	s.tables[table.Name] = table
}

// Get returns the descriptor for name
func (s *Snapshot) Get(name string) (*TableDescriptor, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Has reports whether the snapshot contains name
func (s *Snapshot) Has(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Names returns table names in enumeration order
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Tables returns descriptors in enumeration order
func (s *Snapshot) Tables() []*TableDescriptor {
	tables := make([]*TableDescriptor, 0, len(s.order))
	for _, name := range s.order {
		tables = append(tables, s.tables[name])
	}
	return tables
}

// Len returns the number of tables
func (s *Snapshot) Len() int {
	return len(s.order)
}

// IsEmpty reports whether no tables were found
func (s *Snapshot) IsEmpty() bool {
	return len(s.order) == 0
}
