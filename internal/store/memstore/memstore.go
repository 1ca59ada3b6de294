// =============================================================================
// Sheet Import - In-Memory Record Store
// =============================================================================
//
// This module implements remote.Store in memory. It backs the "file" store
// driver: the whole store is loaded from and saved to a YAML snapshot such as:
//
//   categories:
//     - name: Region
//       value_list: Regions
//     - name: Budget Amount
//   value_lists:
//     Regions: [East, West]
//   sub_record_types: [Budget]
//   items:
//     - id: p-1
//       name: Apollo
//       status: open
//       fields: {Budget Amount: "100"}
//   sub_records:
//     - item_id: p-1
//       type: Budget
//       records:
//         - {id: b-1, name: b-1, serial: 1, fields: {Region: East}}
//
// Every call is counted so tests can assert exactly which mutations a run
// performed.
//
// =============================================================================

package memstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/sheet-import/internal/remote"
)

// ErrItemNotFound is returned by mutations addressed to an unknown item.
var ErrItemNotFound = errors.New("item not found")

// =============================================================================
// SNAPSHOT TYPES
// =============================================================================

// Snapshot is the YAML form of the whole store.
type Snapshot struct {
	Categories     []remote.Category   `yaml:"categories"`
	ValueLists     map[string][]string `yaml:"value_lists,omitempty"`
	SubRecordTypes []string            `yaml:"sub_record_types,omitempty"`
	Items          []remote.Item       `yaml:"items,omitempty"`
	SubRecords     []SubRecordSet      `yaml:"sub_records,omitempty"`
}

// SubRecordSet holds the sub-records of one type under one item.
type SubRecordSet struct {
	ItemID  string             `yaml:"item_id"`
	Type    string             `yaml:"type"`
	Records []remote.SubRecord `yaml:"records"`
}

// Counters records how often each store operation was called.
type Counters struct {
	Lookups        int
	ItemsCreated   int
	StatusUpdates  int
	FieldUpdates   int
	FieldsWritten  int
	Syncs          int
	RecordsWritten int
}

// Mutations returns the number of mutating calls.
func (c Counters) Mutations() int {
	return c.ItemsCreated + c.StatusUpdates + c.FieldUpdates + c.Syncs
}

// =============================================================================
// STORE
// =============================================================================

// Store is an in-memory remote.Store. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	categories []remote.Category
	valueLists map[string][]string
	subTypes   []string
	items      []*remote.Item
	subRecords map[subKey][]remote.SubRecord

	counters Counters
	faults   map[string]error
	newID    func() string
}

type subKey struct {
	itemID  string
	subType string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		valueLists: make(map[string][]string),
		subRecords: make(map[subKey][]remote.SubRecord),
		faults:     make(map[string]error),
		newID:      uuid.NewString,
	}
}

// FromSnapshot builds a store holding the snapshot's contents.
func FromSnapshot(snap Snapshot) *Store {
	s := New()
	for _, c := range snap.Categories {
		s.AddCategory(c.Name, c.ValueList)
	}
	for name, values := range snap.ValueLists {
		s.AddValueList(name, values...)
	}
	for _, t := range snap.SubRecordTypes {
		s.AddSubRecordType(t)
	}
	for _, item := range snap.Items {
		s.AddItem(item)
	}
	for _, set := range snap.SubRecords {
		s.SetSubRecords(set.ItemID, set.Type, set.Records...)
	}
	return s
}

// Load reads a YAML snapshot file. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse store file %s: %w", path, err)
	}
	return FromSnapshot(snap), nil
}

// Save writes the store as a YAML snapshot.
func (s *Store) Save(path string) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the store contents in stable order.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Categories:     slices.Clone(s.categories),
		ValueLists:     make(map[string][]string, len(s.valueLists)),
		SubRecordTypes: slices.Clone(s.subTypes),
	}
	for name, values := range s.valueLists {
		snap.ValueLists[name] = slices.Clone(values)
	}
	for _, item := range s.items {
		snap.Items = append(snap.Items, cloneItem(item))
	}

	keys := make([]subKey, 0, len(s.subRecords))
	for k := range s.subRecords {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].itemID != keys[j].itemID {
			return keys[i].itemID < keys[j].itemID
		}
		return keys[i].subType < keys[j].subType
	})
	for _, k := range keys {
		set := SubRecordSet{ItemID: k.itemID, Type: k.subType}
		for _, r := range s.subRecords[k] {
			set.Records = append(set.Records, r.Clone())
		}
		snap.SubRecords = append(snap.SubRecords, set)
	}

	return snap
}

// =============================================================================
// FIXTURE HELPERS
// =============================================================================

// AddCategory defines a category, optionally backed by a value list.
func (s *Store) AddCategory(name, valueList string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, remote.Category{Name: name, ValueList: valueList})
}

// AddValueList defines a value list.
func (s *Store) AddValueList(name string, values ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valueLists[name] = append([]string(nil), values...)
}

// AddSubRecordType defines a sub-record type.
func (s *Store) AddSubRecordType(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subTypes = append(s.subTypes, name)
}

// AddItem stores an item, assigning an id when it has none.
func (s *Store) AddItem(item remote.Item) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = s.newID()
	}
	if item.Status == "" {
		item.Status = remote.StatusOpen
	}
	c := cloneItem(&item)
	s.items = append(s.items, &c)
	return item.ID
}

// SetSubRecords replaces the sub-records of a type under an item.
func (s *Store) SetSubRecords(itemID, subType string, records ...remote.SubRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := subKey{itemID, strings.ToLower(subType)}
	s.subRecords[k] = nil
	for _, r := range records {
		s.subRecords[k] = append(s.subRecords[k], r.Clone())
	}
}

// SubRecords returns a copy of the stored sub-records in serial order.
func (s *Store) SubRecords(itemID, subType string) []remote.SubRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(itemID, subType, nil)
}

// Item returns a copy of the item with the given id, or nil.
func (s *Store) Item(id string) *remote.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item := s.itemLocked(id); item != nil {
		c := cloneItem(item)
		return &c
	}
	return nil
}

// Counters returns the call counters.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// ResetCounters zeroes the call counters.
func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}

// FailOn makes every call to the named method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

// SetIDGenerator replaces the id generator.
func (s *Store) SetIDGenerator(fn func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newID = fn
}

// =============================================================================
// remote.Schema
// =============================================================================

func (s *Store) Category(ctx context.Context, name string) (*remote.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Category"); err != nil {
		return nil, err
	}
	s.counters.Lookups++

	if c := s.categoryLocked(name); c != nil {
		out := *c
		return &out, nil
	}
	return nil, nil
}

func (s *Store) ValueListValues(ctx context.Context, list string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ValueListValues"); err != nil {
		return nil, err
	}
	s.counters.Lookups++

	values, ok := s.valueLists[list]
	if !ok {
		return nil, fmt.Errorf("value list %q not found", list)
	}
	return slices.Clone(values), nil
}

func (s *Store) SubRecordTypeExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SubRecordTypeExists"); err != nil {
		return false, err
	}
	s.counters.Lookups++

	return slices.ContainsFunc(s.subTypes, func(t string) bool { return strings.EqualFold(t, name) }), nil
}

// =============================================================================
// remote.Store: items
// =============================================================================

func (s *Store) FindItemByName(ctx context.Context, name string) (*remote.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("FindItemByName"); err != nil {
		return nil, err
	}
	s.counters.Lookups++

	name = strings.TrimSpace(name)
	for _, item := range s.items {
		if strings.EqualFold(strings.TrimSpace(item.Name), name) {
			c := cloneItem(item)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) FindItemByExternalID(ctx context.Context, field, value string) (*remote.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("FindItemByExternalID"); err != nil {
		return nil, err
	}
	s.counters.Lookups++

	value = strings.TrimSpace(value)
	for _, item := range s.items {
		if strings.EqualFold(strings.TrimSpace(item.Field(field)), value) {
			c := cloneItem(item)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) ListChildItems(ctx context.Context, parentID string) ([]remote.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListChildItems"); err != nil {
		return nil, err
	}
	s.counters.Lookups++

	var children []remote.Item
	for _, item := range s.items {
		if item.ParentID == parentID {
			children = append(children, cloneItem(item))
		}
	}
	return children, nil
}

func (s *Store) CreateItem(ctx context.Context, item remote.NewItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateItem"); err != nil {
		return "", err
	}
	if item.ParentID != "" && s.itemLocked(item.ParentID) == nil {
		return "", fmt.Errorf("parent %s: %w", item.ParentID, ErrItemNotFound)
	}
	s.counters.ItemsCreated++

	created := &remote.Item{
		ID:       s.newID(),
		Name:     item.Name,
		Status:   item.Status,
		Type:     item.Type,
		ParentID: item.ParentID,
		Fields:   make(map[string]string),
	}
	s.items = append(s.items, created)
	return created.ID, nil
}

func (s *Store) UpdateItemStatus(ctx context.Context, id string, status remote.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateItemStatus"); err != nil {
		return err
	}
	item := s.itemLocked(id)
	if item == nil {
		return fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	s.counters.StatusUpdates++

	item.Status = status
	return nil
}

// UpdateFields writes every value it accepts. Unknown categories and values
// outside a category's value list are reported as failures.
func (s *Store) UpdateFields(ctx context.Context, id string, values []remote.FieldValue) ([]remote.FieldFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateFields"); err != nil {
		return nil, err
	}
	item := s.itemLocked(id)
	if item == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	s.counters.FieldUpdates++

	if item.Fields == nil {
		item.Fields = make(map[string]string)
	}

	var failures []remote.FieldFailure
	for _, v := range values {
		if msg := s.checkValueLocked(v.Field, v.Value); msg != "" {
			failures = append(failures, remote.FieldFailure{Field: v.Field, Message: msg})
			continue
		}
		item.Fields[s.canonicalLocked(v.Field)] = v.Value
		s.counters.FieldsWritten++
	}
	return failures, nil
}

// =============================================================================
// remote.Store: sub-records
// =============================================================================

func (s *Store) ListSubRecordsAsOf(ctx context.Context, id, subType string, fields []string, asOf time.Time) ([]remote.SubRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListSubRecordsAsOf"); err != nil {
		return nil, err
	}
	if s.itemLocked(id) == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	s.counters.Lookups++

	return s.listLocked(id, subType, fields), nil
}

// SyncSubRecordsAsOf upserts records by id. Records with an unknown field or a
// serial already used by another record are rejected individually.
func (s *Store) SyncSubRecordsAsOf(ctx context.Context, id, subType string, records []remote.SubRecord, asOf time.Time) ([]remote.SubRecordFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("SyncSubRecordsAsOf"); err != nil {
		return nil, err
	}
	if s.itemLocked(id) == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	s.counters.Syncs++

	k := subKey{id, strings.ToLower(subType)}
	stored := s.subRecords[k]

	var failures []remote.SubRecordFailure
	for _, rec := range records {
		if msg := s.checkRecordLocked(rec); msg != "" {
			failures = append(failures, remote.SubRecordFailure{Serial: rec.Serial, ID: rec.ID, Message: msg})
			continue
		}

		idx := -1
		if rec.ID != "" {
			idx = slices.IndexFunc(stored, func(r remote.SubRecord) bool { return r.ID == rec.ID })
		}
		clash := slices.IndexFunc(stored, func(r remote.SubRecord) bool { return r.Serial == rec.Serial })
		if clash >= 0 && clash != idx {
			failures = append(failures, remote.SubRecordFailure{
				Serial: rec.Serial, ID: rec.ID,
				Message: fmt.Sprintf("serial %d already used by %s", rec.Serial, stored[clash].ID),
			})
			continue
		}

		c := rec.Clone()
		c.Fields = make(map[string]string, len(rec.Fields))
		for f, v := range rec.Fields {
			c.Fields[s.canonicalLocked(f)] = v
		}
		if c.ID == "" {
			c.ID = s.newID()
		}
		if c.AsOf.IsZero() {
			c.AsOf = asOf
		}
		if idx >= 0 {
			merged := stored[idx].Clone()
			for f, v := range c.Fields {
				merged.Fields[f] = v
			}
			merged.Name, merged.Serial, merged.AsOf = c.Name, c.Serial, c.AsOf
			stored[idx] = merged
		} else {
			stored = append(stored, c)
		}
		s.counters.RecordsWritten++
	}

	s.subRecords[k] = stored
	return failures, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) fault(method string) error {
	if err, ok := s.faults[method]; ok {
		return err
	}
	return nil
}

func (s *Store) itemLocked(id string) *remote.Item {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (s *Store) categoryLocked(name string) *remote.Category {
	name = strings.TrimSpace(name)
	for i := range s.categories {
		if strings.EqualFold(s.categories[i].Name, name) {
			return &s.categories[i]
		}
	}
	return nil
}

// canonicalLocked returns the category's defined spelling.
func (s *Store) canonicalLocked(field string) string {
	if c := s.categoryLocked(field); c != nil {
		return c.Name
	}
	return field
}

func (s *Store) checkValueLocked(field, value string) string {
	c := s.categoryLocked(field)
	if c == nil {
		return fmt.Sprintf("category %q does not exist", field)
	}
	if c.ValueList != "" && value != "" && !slices.Contains(s.valueLists[c.ValueList], value) {
		return fmt.Sprintf("value %q is not in list %q", value, c.ValueList)
	}
	return ""
}

func (s *Store) checkRecordLocked(rec remote.SubRecord) string {
	fields := make([]string, 0, len(rec.Fields))
	for f := range rec.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if msg := s.checkValueLocked(f, rec.Fields[f]); msg != "" {
			return msg
		}
	}
	return ""
}

// listLocked returns clones in serial order, projected onto fields when given.
func (s *Store) listLocked(itemID, subType string, fields []string) []remote.SubRecord {
	stored := s.subRecords[subKey{itemID, strings.ToLower(subType)}]
	out := make([]remote.SubRecord, 0, len(stored))
	for _, r := range stored {
		c := r.Clone()
		if len(fields) > 0 {
			projected := make(map[string]string, len(fields))
			for _, f := range fields {
				for name, v := range c.Fields {
					if strings.EqualFold(name, f) {
						projected[f] = v
					}
				}
			}
			c.Fields = projected
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

func cloneItem(item *remote.Item) remote.Item {
	c := *item
	c.Fields = make(map[string]string, len(item.Fields))
	for k, v := range item.Fields {
		c.Fields[k] = v
	}
	return c
}
