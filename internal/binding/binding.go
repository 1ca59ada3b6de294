// =============================================================================
// Sheet Import - Column Bindings
// =============================================================================
//
// A column binding is one parsed row of the Map sheet. It ties a data column
// (by spreadsheet letter or 1-based number) to a remote field name and gives
// the column a role in the import:
//
//   | Flag token          | Role                        |
//   |---------------------|-----------------------------|
//   | Yes, UseAsName      | RoleIdentityByName          |
//   | UseAsUCI            | RoleIdentityByExternalID    |
//   | UseAsSubItemID      | RoleSubRecordExplicitKey    |
//   | SubItemKey          | RoleSubRecordCompositeKey   |
//   | anything else/blank | RoleNone (plain field)      |
//
// A blank field name always makes the column the item name, whatever the flag.
// Tokens are resolved to a Role once here and never looked at again.
//
// =============================================================================

package binding

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyColumnRef is returned for a Map row with no column reference.
	ErrEmptyColumnRef = errors.New("empty column reference")

	// ErrInvalidColumnRef is returned when a column reference is neither a
	// positive number nor a run of letters.
	ErrInvalidColumnRef = errors.New("invalid column reference")
)

// MaxColumn is the last column a worksheet can hold (XFD).
const MaxColumn = 16384

// =============================================================================
// ROLES
// =============================================================================

// Role is what a bound column is used for during import.
type Role int

const (
	RoleNone Role = iota
	RoleIdentityByName
	RoleIdentityByExternalID
	RoleSubRecordExplicitKey
	RoleSubRecordCompositeKey
)

// Flag tokens accepted in the Map sheet's fourth column.
const (
	TokenYes            = "Yes"
	TokenUseAsName      = "UseAsName"
	TokenUseAsUCI       = "UseAsUCI"
	TokenUseAsSubItemID = "UseAsSubItemID"
	TokenSubItemKey     = "SubItemKey"
)

// String returns the Map sheet token for the role.
func (r Role) String() string {
	switch r {
	case RoleIdentityByName:
		return TokenUseAsName
	case RoleIdentityByExternalID:
		return TokenUseAsUCI
	case RoleSubRecordExplicitKey:
		return TokenUseAsSubItemID
	case RoleSubRecordCompositeKey:
		return TokenSubItemKey
	default:
		return "None"
	}
}

// IsIdentity reports whether the role selects the target item.
func (r Role) IsIdentity() bool {
	return r == RoleIdentityByName || r == RoleIdentityByExternalID
}

// IsSubRecordKey reports whether the role takes part in sub-record matching.
func (r Role) IsSubRecordKey() bool {
	return r == RoleSubRecordExplicitKey || r == RoleSubRecordCompositeKey
}

// ParseRole resolves a flag token. A blank target always yields
// RoleIdentityByName.
func ParseRole(token, target string) Role {
	if strings.TrimSpace(target) == "" {
		return RoleIdentityByName
	}

	switch strings.ToLower(strings.TrimSpace(token)) {
	case strings.ToLower(TokenYes), strings.ToLower(TokenUseAsName):
		return RoleIdentityByName
	case strings.ToLower(TokenUseAsUCI):
		return RoleIdentityByExternalID
	case strings.ToLower(TokenUseAsSubItemID):
		return RoleSubRecordExplicitKey
	case strings.ToLower(TokenSubItemKey):
		return RoleSubRecordCompositeKey
	default:
		return RoleNone
	}
}

// =============================================================================
// COLUMN BINDING
// =============================================================================

// ColumnBinding is one parsed row of the Map sheet.
type ColumnBinding struct {
	// Name is the informational label from the Map sheet's first column.
	Name string

	// ColumnRef is the column reference as written ("C", "27", ...).
	ColumnRef string

	// Index is the 0-based data row field index ColumnRef resolves to.
	Index int

	// Target is the remote field (category) name. Empty for the item name column.
	Target string

	// Role is the resolved flag.
	Role Role

	// ValueList is the controlled vocabulary backing Target, filled in by
	// schema validation. Empty when the field is free text.
	ValueList string
}

// Parse builds a ColumnBinding from the four Map sheet cells
// [name, columnRef, target, flag].
func Parse(name, columnRef, target, flag string) (ColumnBinding, error) {
	number, err := ParseColumnRef(columnRef)
	if err != nil {
		return ColumnBinding{}, fmt.Errorf("mapping %q: %w", name, err)
	}

	target = strings.TrimSpace(target)
	return ColumnBinding{
		Name:      strings.TrimSpace(name),
		ColumnRef: strings.TrimSpace(columnRef),
		Index:     number - 1,
		Target:    target,
		Role:      ParseRole(flag, target),
	}, nil
}

// IsStatus reports whether the binding targets the reserved status field.
func (b ColumnBinding) IsStatus() bool {
	return strings.EqualFold(b.Target, StatusField)
}

// ParseColumnRef converts a spreadsheet column reference to its 1-based number.
// Numeric references pass through unchanged; letter references are base 26
// with 'A' = 1, so "A" is 1, "Z" is 26 and "AA" is 27. References past
// MaxColumn are rejected.
func ParseColumnRef(ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, ErrEmptyColumnRef
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > MaxColumn {
			return 0, fmt.Errorf("%w: %q", ErrInvalidColumnRef, ref)
		}
		return n, nil
	}

	value := 0
	for _, r := range strings.ToUpper(ref) {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidColumnRef, ref)
		}
		value = value*26 + int(r-'A'+1)
		if value > MaxColumn {
			return 0, fmt.Errorf("%w: %q is past column XFD", ErrInvalidColumnRef, ref)
		}
	}
	return value, nil
}
