package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/sheet-import/internal/binding"
	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
	"github.com/ginjaninja78/sheet-import/internal/types"
)

func schemaStore() *memstore.Store {
	s := memstore.New()
	s.AddCategory("Region", "Regions")
	s.AddValueList("Regions", "East", "West")
	s.AddCategory("Amount", "")
	s.AddCategory("Project Code", "")
	s.AddSubRecordType("Budget")
	return s
}

func set(t *testing.T, rows ...[]string) *binding.Set {
	t.Helper()
	raw := append([][]string{{"Name", "Column", "Category", "Flag"}}, rows...)
	s, err := binding.FromTable(types.NewTable("map", "Map", raw, 1))
	require.NoError(t, err)
	return s
}

func data(rows ...[]string) *types.Table {
	return types.NewTable("data", "Data", append([][]string{{"header"}}, rows...), 1)
}

func kinds(issues []Issue) []IssueKind {
	out := make([]IssueKind, len(issues))
	for i, issue := range issues {
		out[i] = issue.Kind
	}
	return out
}

func TestValidatePasses(t *testing.T) {
	s := set(t,
		[]string{"Project", "A", "", "Yes"},
		[]string{"Region", "B", "Region", "SubItemKey"},
		[]string{"Amount", "C", "Amount", ""},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data(
		[]string{"Apollo", "East", "100"},
		[]string{"Gemini", "", "5"},
	), Options{SubRecordType: "budget"})
	require.NoError(t, err)

	assert.True(t, res.IsValid())
	assert.Equal(t, map[string]string{"Region": "Regions"}, res.ValueLists)
	assert.Equal(t, 2, res.CategoriesChecked)
	assert.Equal(t, 1, res.ValuesChecked)

	res.Apply(s)
	assert.Equal(t, "Regions", s.Bindings[1].ValueList)
}

func TestMissingIdentityIsFailFast(t *testing.T) {
	s := set(t,
		[]string{"Region", "B", "Region", ""},
		[]string{"Colour", "C", "Colour", ""},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data(), Options{SubRecordType: "Nope"})
	require.NoError(t, err)
	assert.Equal(t, []IssueKind{MissingIdentityBinding}, kinds(res.Issues))
}

func TestValidateAccumulatesAllIssues(t *testing.T) {
	s := set(t,
		[]string{"Project", "A", "", "Yes"},
		[]string{"Colour", "B", "Colour", ""},
		[]string{"Colour again", "C", "colour", ""},
		[]string{"Region", "D", "Region", ""},
		[]string{"State", "E", "Status", ""},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data(
		[]string{"Apollo", "", "", "North", "CLOSED"},
		[]string{"Gemini", "", "", "North", ""},
		[]string{"Mercury", "", "", "east", ""},
		[]string{"Vostok", "", "", "  ", ""},
	), Options{SubRecordType: "Cargo"})
	require.NoError(t, err)

	assert.Equal(t, []IssueKind{
		UnknownCategory,
		InvalidListValue,
		InvalidListValue,
		UnknownSubRecordType,
		MissingKeyBinding,
	}, kinds(res.Issues))

	assert.Equal(t, "Colour", res.Issues[0].Field)
	assert.Equal(t, "North", res.Issues[1].Value)
	assert.Equal(t, 2, res.Issues[1].Row)
	assert.Equal(t, "Regions", res.Issues[1].List)
	assert.Equal(t, "east", res.Issues[2].Value)
	assert.False(t, res.IsValid())
}

func TestEveryColumnOnAListIsChecked(t *testing.T) {
	s := set(t,
		[]string{"Project", "A", "", "Yes"},
		[]string{"Region", "B", "Region", ""},
		[]string{"Region2", "C", "region", ""},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data(
		[]string{"Apollo", "East", "Mars"},
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.CategoriesChecked)
	assert.Equal(t, 2, res.ValuesChecked)
	require.Equal(t, []IssueKind{InvalidListValue}, kinds(res.Issues))
	assert.Equal(t, "Mars", res.Issues[0].Value)
	assert.Equal(t, "region", res.Issues[0].Field)
	assert.False(t, res.IsValid())
}

func TestExternalIDTargetMustExist(t *testing.T) {
	s := set(t,
		[]string{"Code", "A", "Legacy Code", "UseAsUCI"},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data([]string{"X"}), Options{})
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, UnknownCategory, res.Issues[0].Kind)
	assert.Equal(t, "Legacy Code", res.Issues[0].Field)
}

func TestExplicitKeySatisfiesKeyCheck(t *testing.T) {
	s := set(t,
		[]string{"Project", "A", "", "Yes"},
		[]string{"Line", "B", "Project Code", "UseAsSubItemID"},
	)

	res, err := Validate(context.Background(), schemaStore(), s, data([]string{"Apollo", "L-1"}), Options{SubRecordType: "Budget"})
	require.NoError(t, err)
	assert.True(t, res.IsValid())
}

func TestSchemaFaultIsError(t *testing.T) {
	store := schemaStore()
	boom := errors.New("timeout")
	store.FailOn("Category", boom)

	s := set(t,
		[]string{"Project", "A", "", "Yes"},
		[]string{"Amount", "B", "Amount", ""},
	)
	_, err := Validate(context.Background(), store, s, data(), Options{})
	assert.ErrorIs(t, err, boom)
}

func TestFormatIssues(t *testing.T) {
	assert.Equal(t, "No validation issues.", FormatIssues(nil))

	out := FormatIssues([]Issue{{Kind: UnknownCategory, Message: `category "Colour" does not exist`}})
	assert.Contains(t, out, "1 issue(s)")
	assert.Contains(t, out, `1. [UnknownCategory] category "Colour" does not exist`)
}
