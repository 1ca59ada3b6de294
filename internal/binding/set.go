package binding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/sheet-import/internal/types"
)

// StatusField is the reserved target that drives item status instead of a field.
const StatusField = "status"

// ExplicitKeySentinel is the single key "field" reported by SubRecordKeyFields
// when sub-records are matched only by an explicit id column.
const ExplicitKeySentinel = TokenUseAsSubItemID

// ErrDuplicateIdentity is returned when a Map sheet flags more than one column
// with the same identity role.
var ErrDuplicateIdentity = errors.New("duplicate identity binding")

// Set is the ordered collection of bindings for one import, in Map sheet order.
type Set struct {
	Bindings []ColumnBinding
}

// NewSet validates identity cardinality and returns the set.
func NewSet(bindings []ColumnBinding) (*Set, error) {
	var byName, byExternal int
	for _, b := range bindings {
		switch b.Role {
		case RoleIdentityByName:
			byName++
		case RoleIdentityByExternalID:
			byExternal++
		}
	}
	if byName > 1 {
		return nil, fmt.Errorf("%w: %d columns identify items by name", ErrDuplicateIdentity, byName)
	}
	if byExternal > 1 {
		return nil, fmt.Errorf("%w: %d columns identify items by %s", ErrDuplicateIdentity, byExternal, TokenUseAsUCI)
	}

	return &Set{Bindings: bindings}, nil
}

// FromTable parses every Map sheet row [name, column, target, flag]. Rows
// with a blank name cell are spacer rows and are ignored.
func FromTable(table *types.Table) (*Set, error) {
	var bindings []ColumnBinding
	for _, row := range table.Rows {
		if strings.TrimSpace(row.Cell(0)) == "" {
			continue
		}
		b, err := Parse(row.Cell(0), row.Cell(1), row.Cell(2), row.Cell(3))
		if err != nil {
			return nil, fmt.Errorf("map row %d: %w", row.Number, err)
		}
		bindings = append(bindings, b)
	}
	return NewSet(bindings)
}

// Len returns the number of bindings.
func (s *Set) Len() int { return len(s.Bindings) }

func (s *Set) HasIdentityByName() bool {
	_, ok := s.find(func(b ColumnBinding) bool { return b.Role == RoleIdentityByName })
	return ok
}

func (s *Set) HasIdentityByExternalID() bool {
	_, ok := s.find(func(b ColumnBinding) bool { return b.Role == RoleIdentityByExternalID })
	return ok
}

// Identity returns the binding that selects the target item. An external id
// binding wins over a name binding.
func (s *Set) Identity() (ColumnBinding, bool) {
	if b, ok := s.find(func(b ColumnBinding) bool { return b.Role == RoleIdentityByExternalID }); ok {
		return b, true
	}
	return s.find(func(b ColumnBinding) bool { return b.Role == RoleIdentityByName })
}

// ExplicitKey returns the sub-record explicit id binding, if any.
func (s *Set) ExplicitKey() (ColumnBinding, bool) {
	return s.find(func(b ColumnBinding) bool { return b.Role == RoleSubRecordExplicitKey })
}

// Status returns the binding for the reserved status target, if any.
func (s *Set) Status() (ColumnBinding, bool) {
	return s.find(func(b ColumnBinding) bool { return !b.Role.IsIdentity() && b.IsStatus() })
}

// SubRecordKeyFields lists the field names used for composite sub-record
// matching. When the only key binding is the explicit id column the list is
// the single ExplicitKeySentinel.
func (s *Set) SubRecordKeyFields() []string {
	var explicit, composite int
	var keys []string
	for _, b := range s.Bindings {
		if !b.Role.IsSubRecordKey() {
			continue
		}
		if b.Role == RoleSubRecordExplicitKey {
			explicit++
			continue
		}
		composite++
		keys = append(keys, b.Target)
	}
	if explicit == 1 && composite == 0 {
		return []string{ExplicitKeySentinel}
	}
	return keys
}

// Fields returns the bindings whose values are written to the item or its
// sub-records: everything except identity, status and explicit key columns.
func (s *Set) Fields() []ColumnBinding {
	var fields []ColumnBinding
	for _, b := range s.Bindings {
		if b.Role.IsIdentity() || b.Role == RoleSubRecordExplicitKey || b.IsStatus() || b.Target == "" {
			continue
		}
		fields = append(fields, b)
	}
	return fields
}

// FieldNames returns the targets of Fields in binding order.
func (s *Set) FieldNames() []string {
	fields := s.Fields()
	names := make([]string, len(fields))
	for i, b := range fields {
		names[i] = b.Target
	}
	return names
}

// SetValueList records the vocabulary backing every binding with the given target.
func (s *Set) SetValueList(target, list string) {
	for i := range s.Bindings {
		if strings.EqualFold(s.Bindings[i].Target, target) {
			s.Bindings[i].ValueList = list
		}
	}
}

func (s *Set) find(match func(ColumnBinding) bool) (ColumnBinding, bool) {
	for _, b := range s.Bindings {
		if match(b) {
			return b, true
		}
	}
	return ColumnBinding{}, false
}
