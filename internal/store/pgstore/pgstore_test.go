package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
)

// testStore connects to the database named by SHEETIMPORT_TEST_DATABASE_URL
// and empties the store tables. The test is skipped when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SHEETIMPORT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHEETIMPORT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.pool.Exec(ctx, `TRUNCATE si_sub_records, si_item_fields, si_items, si_sub_record_types, si_value_lists, si_categories`)
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx, memstore.Snapshot{
		Categories: []remote.Category{
			{Name: "Region", ValueList: "Regions"},
			{Name: "Amount"},
			{Name: "Legacy Code"},
		},
		ValueLists:     map[string][]string{"Regions": {"East", "West"}},
		SubRecordTypes: []string{"Budget"},
		Items: []remote.Item{
			{ID: "p-1", Name: "Apollo", Status: remote.StatusOpen, ParentID: "c-1", Fields: map[string]string{"Legacy Code": "AP-1"}},
			{ID: "c-1", Name: "IMPORTED ITEMS", Status: remote.StatusOpen, Type: remote.TypeContainer},
		},
		SubRecords: []memstore.SubRecordSet{{
			ItemID: "p-1", Type: "Budget",
			Records: []remote.SubRecord{
				{ID: "b-2", Name: "b-2", Serial: 2, Fields: map[string]string{"Region": "West", "Amount": "20"}},
				{ID: "b-1", Name: "b-1", Serial: 1, Fields: map[string]string{"Region": "East", "Amount": "10"}},
			},
		}},
	}))
	return s
}

func TestSchemaLookups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c, err := s.Category(ctx, " region ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Region", c.Name)
	assert.Equal(t, "Regions", c.ValueList)

	missing, err := s.Category(ctx, "Colour")
	require.NoError(t, err)
	assert.Nil(t, missing)

	values, err := s.ValueListValues(ctx, "Regions")
	require.NoError(t, err)
	assert.Equal(t, []string{"East", "West"}, values)

	ok, err := s.SubRecordTypeExists(ctx, "budget")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindItems(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	item, err := s.FindItemByName(ctx, "apollo")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "p-1", item.ID)
	assert.Equal(t, "AP-1", item.Field("legacy code"))

	byCode, err := s.FindItemByExternalID(ctx, "Legacy Code", " ap-1 ")
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, "p-1", byCode.ID)

	none, err := s.FindItemByName(ctx, "Gemini")
	require.NoError(t, err)
	assert.Nil(t, none)

	children, err := s.ListChildItems(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Apollo", children[0].Name)
}

func TestItemMutations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.CreateItem(ctx, remote.NewItem{Name: "Gemini", ParentID: "c-1", Status: remote.StatusOpen, Type: remote.TypeItem})
	require.NoError(t, err)

	_, err = s.CreateItem(ctx, remote.NewItem{Name: "Orphan", ParentID: "nope"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	require.NoError(t, s.UpdateItemStatus(ctx, id, remote.StatusClosed))
	assert.ErrorIs(t, s.UpdateItemStatus(ctx, "nope", remote.StatusClosed), ErrItemNotFound)

	failures, err := s.UpdateFields(ctx, id, []remote.FieldValue{
		{Field: "region", Value: "East"},
		{Field: "Region", Value: "North"},
		{Field: "Colour", Value: "Red"},
		{Field: "Amount", Value: "5"},
	})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "Region", failures[0].Field)
	assert.Equal(t, "Colour", failures[1].Field)

	item, err := s.FindItemByName(ctx, "Gemini")
	require.NoError(t, err)
	assert.Equal(t, remote.StatusClosed, item.Status)
	assert.Equal(t, map[string]string{"Region": "East", "Amount": "5"}, item.Fields)
}

func TestSubRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	records, err := s.ListSubRecordsAsOf(ctx, "p-1", "Budget", []string{"Amount"}, asOf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []int{1, 2}, []int{records[0].Serial, records[1].Serial})
	assert.Equal(t, map[string]string{"Amount": "10"}, records[0].Fields)

	failures, err := s.SyncSubRecordsAsOf(ctx, "p-1", "Budget", []remote.SubRecord{
		{ID: "b-1", Name: "b-1", Serial: 1, Fields: map[string]string{"amount": "11"}},
		{Name: "new", Serial: 3, Fields: map[string]string{"Region": "East"}},
		{Name: "clash", Serial: 2, Fields: map[string]string{"Region": "East"}},
		{Name: "bad", Serial: 4, Fields: map[string]string{"Region": "North"}},
	}, asOf)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, 2, failures[0].Serial)
	assert.Equal(t, 4, failures[1].Serial)

	records, err = s.ListSubRecordsAsOf(ctx, "p-1", "budget", nil, asOf)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, map[string]string{"Region": "East", "Amount": "11"}, records[0].Fields)
	assert.NotEmpty(t, records[2].ID)
	assert.True(t, records[2].AsOf.Equal(asOf))

	_, err = s.SyncSubRecordsAsOf(ctx, "nope", "Budget", nil, asOf)
	assert.ErrorIs(t, err, ErrItemNotFound)
}
