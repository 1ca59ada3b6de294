// =============================================================================
// Sheet Import - Remote Record Store
// =============================================================================
//
// This package describes the record store an import reads from and writes to.
// The store holds:
//   - items: named records with a status and categorized field values,
//     arranged in a parent/child tree (imported items live under a container)
//   - sub-records: dated child rows of an item, each with a serial number
//     that is unique per item
//   - the schema: categories (fields), the value lists that back some of
//     them, and the fixed taxonomy of sub-record types
//
// Every call is a synchronous round trip. Implementations live under
// internal/store.
//
// =============================================================================

package remote

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// ITEMS
// =============================================================================

// Status is an item's lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusCandidate Status = "candidate"
)

// Item types used by the importer.
const (
	TypeContainer = "portfolio"
	TypeItem      = "project"
)

// Item is a record fetched from the store. It is never cached across rows.
type Item struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Status   Status            `yaml:"status"`
	Type     string            `yaml:"type,omitempty"`
	ParentID string            `yaml:"parent_id,omitempty"`
	Fields   map[string]string `yaml:"fields,omitempty"`
}

// Field returns the item's stored value for a category, or "".
func (i *Item) Field(name string) string {
	if i == nil || i.Fields == nil {
		return ""
	}
	if v, ok := i.Fields[name]; ok {
		return v
	}
	for k, v := range i.Fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// NewItem describes an item to create.
type NewItem struct {
	Name     string
	ParentID string
	Status   Status
	Type     string
}

// FieldValue is one category value to write to an item.
type FieldValue struct {
	Field string
	Value string
}

// FieldFailure reports a field the store refused to update.
type FieldFailure struct {
	Field   string
	Message string
}

// =============================================================================
// SUB-RECORDS
// =============================================================================

// SubRecord is a dated child row of an item.
type SubRecord struct {
	// ID is the stable remote identity. Explicit-key imports match on it.
	ID string `yaml:"id"`

	// Name is a unique token assigned at creation.
	Name string `yaml:"name"`

	// Serial is unique and increasing per item.
	Serial int `yaml:"serial"`

	Fields map[string]string `yaml:"fields,omitempty"`
	AsOf   time.Time         `yaml:"as_of"`
}

// Clone returns a copy whose field map can be modified independently.
func (s SubRecord) Clone() SubRecord {
	c := s
	c.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	return c
}

// SubRecordFailure reports a sub-record the store refused to synchronize.
type SubRecordFailure struct {
	Serial  int
	ID      string
	Message string
}

// =============================================================================
// SCHEMA
// =============================================================================

// Category is a field definition. ValueList is empty for free-text fields.
type Category struct {
	Name      string `yaml:"name"`
	ValueList string `yaml:"value_list,omitempty"`
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Schema is the read-only schema surface used by validation.
type Schema interface {
	// Category returns the named category, or nil when it does not exist.
	Category(ctx context.Context, name string) (*Category, error)

	// ValueListValues returns the members of a value list.
	ValueListValues(ctx context.Context, list string) ([]string, error)

	// SubRecordTypeExists reports whether the sub-record type is defined.
	SubRecordTypeExists(ctx context.Context, name string) (bool, error)
}

// Store is the full surface consumed by an import run.
type Store interface {
	Schema

	// FindItemByName returns the item with the given name, or nil.
	FindItemByName(ctx context.Context, name string) (*Item, error)

	// FindItemByExternalID returns the item whose field holds value, or nil.
	FindItemByExternalID(ctx context.Context, field, value string) (*Item, error)

	// ListChildItems returns the direct children of an item.
	ListChildItems(ctx context.Context, parentID string) ([]Item, error)

	CreateItem(ctx context.Context, item NewItem) (string, error)
	UpdateItemStatus(ctx context.Context, id string, status Status) error

	// UpdateFields writes all values in one call. Values the store refuses
	// are reported as failures; the error is reserved for transport faults.
	UpdateFields(ctx context.Context, id string, values []FieldValue) ([]FieldFailure, error)

	// ListSubRecordsAsOf returns the item's sub-records of a type, with the
	// requested fields, as they stood at asOf. Order is serial order.
	ListSubRecordsAsOf(ctx context.Context, id, subType string, fields []string, asOf time.Time) ([]SubRecord, error)

	// SyncSubRecordsAsOf replaces the item's sub-record set with records as
	// of asOf. Records with an empty ID are assigned one.
	SyncSubRecordsAsOf(ctx context.Context, id, subType string, records []SubRecord, asOf time.Time) ([]SubRecordFailure, error)
}

// ParseStatus maps a stored status string to a Status, defaulting to open.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusClosed:
		return StatusClosed
	case StatusCandidate:
		return StatusCandidate
	default:
		return StatusOpen
	}
}
