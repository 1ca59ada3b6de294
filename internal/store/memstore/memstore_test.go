package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
categories:
  - name: Region
    value_list: Regions
  - name: Budget Amount
  - name: Project Code
value_lists:
  Regions: [East, West]
sub_record_types: [Budget]
items:
  - id: p-1
    name: Apollo
    status: open
    fields:
      Project Code: AP-01
sub_records:
  - item_id: p-1
    type: Budget
    records:
      - {id: b-2, name: t2, serial: 2, fields: {Region: West}}
      - {id: b-1, name: t1, serial: 1, fields: {Region: East, Budget Amount: "100"}}
`

func loadFixture(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	return s
}

func TestLoadAndSave(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	item, err := s.FindItemByName(ctx, " apollo ")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "p-1", item.ID)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, s.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Items)
}

func TestFindItemByExternalID(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	item, err := s.FindItemByExternalID(ctx, "project code", "ap-01")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "Apollo", item.Name)

	item, err = s.FindItemByExternalID(ctx, "Project Code", "ZZ-99")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestUpdateFieldsReportsFailures(t *testing.T) {
	s := loadFixture(t)
	ctx := context.Background()

	failures, err := s.UpdateFields(ctx, "p-1", []remote.FieldValue{
		{Field: "budget amount", Value: "250"},
		{Field: "Region", Value: "North"},
		{Field: "Colour", Value: "Red"},
	})
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "Region", failures[0].Field)
	assert.Equal(t, "Colour", failures[1].Field)

	assert.Equal(t, "250", s.Item("p-1").Fields["Budget Amount"])
	assert.Equal(t, 1, s.Counters().FieldUpdates)
	assert.Equal(t, 1, s.Counters().FieldsWritten)

	_, err = s.UpdateFields(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestListSubRecordsOrderAndProjection(t *testing.T) {
	s := loadFixture(t)

	records, err := s.ListSubRecordsAsOf(context.Background(), "p-1", "budget", []string{"Region"}, time.Now())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Serial)
	assert.Equal(t, map[string]string{"Region": "East"}, records[0].Fields)
}

func TestSyncSubRecordsUpsertsByID(t *testing.T) {
	s := loadFixture(t)
	s.SetIDGenerator(func() string { return "generated" })
	ctx := context.Background()
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	failures, err := s.SyncSubRecordsAsOf(ctx, "p-1", "Budget", []remote.SubRecord{
		{ID: "b-1", Name: "t1", Serial: 1, Fields: map[string]string{"Region": "East"}},
		{Name: "t3", Serial: 3, Fields: map[string]string{"region": "West", "Budget Amount": "5"}},
		{Name: "t4", Serial: 2, Fields: map[string]string{"Region": "East"}},
		{Name: "t5", Serial: 5, Fields: map[string]string{"Region": "South"}},
	}, asOf)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0].Message, "serial 2")
	assert.Contains(t, failures[1].Message, "South")

	records := s.SubRecords("p-1", "Budget")
	require.Len(t, records, 3)
	assert.Equal(t, "100", records[0].Fields["Budget Amount"], "fields not sent are kept")
	assert.Equal(t, "generated", records[2].ID)
	assert.Equal(t, "West", records[2].Fields["Region"])
	assert.Equal(t, asOf, records[2].AsOf)
}

func TestFailOn(t *testing.T) {
	s := New()
	boom := errors.New("connection reset")
	s.FailOn("FindItemByName", boom)

	_, err := s.FindItemByName(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestCreateItemRequiresParent(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateItem(ctx, remote.NewItem{Name: "Apollo", ParentID: "nope"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	parent := s.AddItem(remote.Item{Name: "IMPORTED ITEMS", Type: remote.TypeContainer})
	id, err := s.CreateItem(ctx, remote.NewItem{Name: "Apollo", ParentID: parent, Status: remote.StatusOpen, Type: remote.TypeItem})
	require.NoError(t, err)

	children, err := s.ListChildItems(ctx, parent)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, id, children[0].ID)
	assert.Equal(t, 1, s.Counters().Mutations())
}
