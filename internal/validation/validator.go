// =============================================================================
// Sheet Import - Schema Validation
// =============================================================================
//
// This module cross-checks a binding set and the whole data table against the
// remote schema before a single row is reconciled. It checks:
//   1. An identity binding exists (the only fail-fast check)
//   2. Every bound field exists as a category in the schema
//   3. Every non-empty value of a value-list backed field is a list member
//   4. The requested sub-record type exists
//   5. Sub-record imports have at least one key binding
//
// VALIDATION STRATEGY:
//   Checks 2-5 all run even when an earlier one reports problems. Issues are
//   collected, deduplicated and returned in check order. Validate never
//   mutates anything; the caller proceeds to row processing only when the
//   returned issue list is empty.
//
// ERROR HANDLING:
//   - Schema problems are returned as Issues, never as errors
//   - A store fault while reading the schema is returned as an error
//
// =============================================================================

package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ginjaninja78/sheet-import/internal/binding"
	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/types"
)

// =============================================================================
// ISSUE TYPES
// =============================================================================

// IssueKind classifies a validation issue.
type IssueKind int

const (
	UnknownCategory IssueKind = iota + 1
	InvalidListValue
	UnknownSubRecordType
	MissingKeyBinding
	MissingIdentityBinding
)

// String returns the kind name used in logs and reports.
func (k IssueKind) String() string {
	switch k {
	case UnknownCategory:
		return "UnknownCategory"
	case InvalidListValue:
		return "InvalidListValue"
	case UnknownSubRecordType:
		return "UnknownSubRecordType"
	case MissingKeyBinding:
		return "MissingKeyBinding"
	case MissingIdentityBinding:
		return "MissingIdentityBinding"
	default:
		return "Unknown"
	}
}

// Issue is a single schema validation problem.
type Issue struct {
	Kind IssueKind

	// Field is the category name the issue is about, if any.
	Field string

	// List is the value list name for InvalidListValue issues.
	List string

	// Value is the offending data value for InvalidListValue issues.
	Value string

	// Row is the first data row the value was seen on.
	Row int

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("[%s] %s", i.Kind, i.Message)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// Options contains options for validation.
type Options struct {
	// SubRecordType is the sub-record type to import into. Empty means rows
	// update item fields directly.
	SubRecordType string
}

// Result contains the results of validation.
type Result struct {
	// Issues holds every problem found, in check order.
	Issues []Issue

	// ValueLists maps each bound field backed by a value list to that list.
	ValueLists map[string]string

	// CategoriesChecked is the number of distinct categories looked up.
	CategoriesChecked int

	// ValuesChecked is the number of non-empty list-backed cells checked.
	ValuesChecked int
}

// IsValid reports whether the import may proceed.
func (r *Result) IsValid() bool {
	return len(r.Issues) == 0
}

// Apply records the resolved value lists on the binding set.
func (r *Result) Apply(set *binding.Set) {
	for field, list := range r.ValueLists {
		set.SetValueList(field, list)
	}
}

// =============================================================================
// MAIN VALIDATION FUNCTION
// =============================================================================

// Validate checks set and data against schema.
//
// PARAMETERS:
//   - ctx: Context for the schema lookups.
//   - schema: The remote schema.
//   - set: The parsed Map sheet bindings.
//   - data: The Data sheet rows.
//   - opts: Validation options.
//
// RETURNS:
//   - The validation result. Result.IsValid gates the import.
//   - An error only if the schema could not be read.
func Validate(ctx context.Context, schema remote.Schema, set *binding.Set, data *types.Table, opts Options) (*Result, error) {
	result := &Result{ValueLists: make(map[string]string)}

	// =========================================================================
	// 1. IDENTITY BINDING
	// =========================================================================
	// Rows cannot be addressed without it, so nothing else is checked.

	if _, ok := set.Identity(); !ok {
		result.Issues = append(result.Issues, Issue{
			Kind:    MissingIdentityBinding,
			Message: "no column identifies the item (blank category, Yes/UseAsName or UseAsUCI flag)",
		})
		return result, nil
	}

	// =========================================================================
	// 2. CATEGORY EXISTENCE
	// =========================================================================

	// Category lookups are made once per target, but every binding on a
	// list-backed category has its column scanned.
	var listed []binding.ColumnBinding
	categories := make(map[string]*remote.Category)
	for _, b := range set.Bindings {
		if b.Role == binding.RoleIdentityByName || b.IsStatus() || b.Target == "" {
			continue
		}
		key := strings.ToLower(b.Target)
		category, seen := categories[key]
		if !seen {
			result.CategoriesChecked++

			var err error
			category, err = schema.Category(ctx, b.Target)
			if err != nil {
				return nil, fmt.Errorf("failed to look up category %q: %w", b.Target, err)
			}
			categories[key] = category
			if category == nil {
				result.Issues = append(result.Issues, Issue{
					Kind:    UnknownCategory,
					Field:   b.Target,
					Message: fmt.Sprintf("category %q does not exist", b.Target),
				})
			}
		}
		if category != nil && category.ValueList != "" {
			result.ValueLists[b.Target] = category.ValueList
			listed = append(listed, b)
		}
	}

	// =========================================================================
	// 3. VALUE LIST MEMBERSHIP
	// =========================================================================

	issues, err := checkListValues(ctx, schema, listed, result, data)
	if err != nil {
		return nil, err
	}
	result.Issues = append(result.Issues, issues...)

	// =========================================================================
	// 4. + 5. SUB-RECORD TYPE AND KEYS
	// =========================================================================

	if opts.SubRecordType != "" {
		exists, err := schema.SubRecordTypeExists(ctx, opts.SubRecordType)
		if err != nil {
			return nil, fmt.Errorf("failed to look up sub-record type %q: %w", opts.SubRecordType, err)
		}
		if !exists {
			result.Issues = append(result.Issues, Issue{
				Kind:    UnknownSubRecordType,
				Field:   opts.SubRecordType,
				Message: fmt.Sprintf("sub-record type %q does not exist", opts.SubRecordType),
			})
		}

		if len(set.SubRecordKeyFields()) == 0 {
			result.Issues = append(result.Issues, Issue{
				Kind:    MissingKeyBinding,
				Message: fmt.Sprintf("importing %q sub-records needs a %s or %s column", opts.SubRecordType, binding.TokenUseAsSubItemID, binding.TokenSubItemKey),
			})
		}
	}

	return result, nil
}

// checkListValues scans every data row for values outside their field's list.
func checkListValues(ctx context.Context, schema remote.Schema, listed []binding.ColumnBinding, result *Result, data *types.Table) ([]Issue, error) {
	var issues []Issue
	members := make(map[string][]string)
	reported := make(map[[3]string]bool)

	for _, b := range listed {
		list := result.ValueLists[b.Target]
		values, ok := members[list]
		if !ok {
			var err error
			values, err = schema.ValueListValues(ctx, list)
			if err != nil {
				return nil, fmt.Errorf("failed to read value list %q: %w", list, err)
			}
			members[list] = values
		}

		for _, row := range data.Rows {
			value := row.Cell(b.Index)
			if strings.TrimSpace(value) == "" {
				continue
			}
			result.ValuesChecked++
			if slices.Contains(values, value) {
				continue
			}

			key := [3]string{list, b.Target, value}
			if reported[key] {
				continue
			}
			reported[key] = true
			issues = append(issues, Issue{
				Kind:    InvalidListValue,
				Field:   b.Target,
				List:    list,
				Value:   value,
				Row:     row.Number,
				Message: fmt.Sprintf("value %q (row %d) is not in list %q used by category %q", value, row.Number, list, b.Target),
			})
		}
	}

	return issues, nil
}

// =============================================================================
// ISSUE FORMATTING
// =============================================================================

// FormatIssues formats validation issues for display or logging.
func FormatIssues(issues []Issue) string {
	if len(issues) == 0 {
		return "No validation issues."
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Validation found %d issue(s):\n\n", len(issues))
	for i, issue := range issues {
		fmt.Fprintf(&builder, "%d. %s\n", i+1, issue.Error())
	}
	return builder.String()
}
