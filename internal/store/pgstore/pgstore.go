// =============================================================================
// Sheet Import - PostgreSQL Record Store
// =============================================================================
//
// This module implements remote.Store on PostgreSQL through a pgx connection
// pool. It backs the "postgres" store driver.
//
// TABLES:
//   si_categories       field definitions, optionally backed by a value list
//   si_value_lists      value list members in defined order
//   si_sub_record_types the sub-record type taxonomy
//   si_items            items and their parent/child tree
//   si_item_fields      one row per item field value
//   si_sub_records      sub-records with their fields as jsonb
//
// Multi-value writes (UpdateFields, SyncSubRecordsAsOf) run in one
// transaction. Each value or record gets its own savepoint so a refused one
// is reported as a failure without aborting the rest.
//
// The store keeps the current state only. ListSubRecordsAsOf returns the
// records as they stand now, and SyncSubRecordsAsOf stamps as_of on the
// records it writes.
//
// =============================================================================

package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
)

// ErrItemNotFound is returned by mutations addressed to an unknown item.
var ErrItemNotFound = errors.New("item not found")

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS si_categories (
	name       TEXT PRIMARY KEY,
	value_list TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS si_categories_lower_name ON si_categories (lower(name));

CREATE TABLE IF NOT EXISTS si_value_lists (
	list     TEXT NOT NULL,
	value    TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (list, value)
);

CREATE TABLE IF NOT EXISTS si_sub_record_types (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS si_items (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	type       TEXT NOT NULL DEFAULT '',
	parent_id  TEXT REFERENCES si_items (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS si_items_lower_name ON si_items (lower(btrim(name)));
CREATE INDEX IF NOT EXISTS si_items_parent ON si_items (parent_id);

CREATE TABLE IF NOT EXISTS si_item_fields (
	item_id TEXT NOT NULL REFERENCES si_items (id) ON DELETE CASCADE,
	field   TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (item_id, field)
);

CREATE TABLE IF NOT EXISTS si_sub_records (
	item_id  TEXT NOT NULL REFERENCES si_items (id) ON DELETE CASCADE,
	sub_type TEXT NOT NULL,
	id       TEXT NOT NULL,
	name     TEXT NOT NULL,
	serial   INTEGER NOT NULL,
	fields   JSONB NOT NULL DEFAULT '{}',
	as_of    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (item_id, sub_type, id),
	UNIQUE (item_id, sub_type, serial)
);
`

// =============================================================================
// STORE
// =============================================================================

// Store is a PostgreSQL-backed remote.Store.
type Store struct {
	pool  *pgxpool.Pool
	newID func() string
}

// Open connects to databaseURL and ensures the schema exists.
//
// PARAMETERS:
//   - ctx: Context for connecting and creating the schema.
//   - databaseURL: A PostgreSQL connection string.
//
// RETURNS:
//   - A ready store. Call Close when done.
//   - An error if the URL is invalid, the database is unreachable, or the
//     schema cannot be created.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not touched.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, newID: uuid.NewString}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the store tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Seed writes a snapshot into the database in one transaction. Existing rows
// with the same keys are overwritten.
func (s *Store) Seed(ctx context.Context, snap memstore.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range snap.Categories {
		if _, err := tx.Exec(ctx, `
			INSERT INTO si_categories (name, value_list) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET value_list = EXCLUDED.value_list`,
			c.Name, c.ValueList); err != nil {
			return fmt.Errorf("failed to seed category %q: %w", c.Name, err)
		}
	}

	for list, values := range snap.ValueLists {
		if _, err := tx.Exec(ctx, `DELETE FROM si_value_lists WHERE list = $1`, list); err != nil {
			return fmt.Errorf("failed to reset value list %q: %w", list, err)
		}
		for i, v := range values {
			if _, err := tx.Exec(ctx, `
				INSERT INTO si_value_lists (list, value, position) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, list, v, i); err != nil {
				return fmt.Errorf("failed to seed value list %q: %w", list, err)
			}
		}
	}

	for _, t := range snap.SubRecordTypes {
		if _, err := tx.Exec(ctx, `INSERT INTO si_sub_record_types (name) VALUES ($1) ON CONFLICT DO NOTHING`, t); err != nil {
			return fmt.Errorf("failed to seed sub-record type %q: %w", t, err)
		}
	}

	// Parents first so the parent_id reference holds.
	items := slices.Clone(snap.Items)
	slices.SortStableFunc(items, func(a, b remote.Item) int {
		switch {
		case a.ParentID == "" && b.ParentID != "":
			return -1
		case a.ParentID != "" && b.ParentID == "":
			return 1
		}
		return 0
	})
	for _, item := range items {
		if item.ID == "" {
			item.ID = s.newID()
		}
		if item.Status == "" {
			item.Status = remote.StatusOpen
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO si_items (id, name, status, type, parent_id) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status,
				type = EXCLUDED.type, parent_id = EXCLUDED.parent_id`,
			item.ID, item.Name, string(item.Status), item.Type, nullable(item.ParentID)); err != nil {
			return fmt.Errorf("failed to seed item %q: %w", item.Name, err)
		}
		for field, value := range item.Fields {
			if err := upsertField(ctx, tx, item.ID, field, value); err != nil {
				return fmt.Errorf("failed to seed field %q of %q: %w", field, item.Name, err)
			}
		}
	}

	for _, set := range snap.SubRecords {
		for _, rec := range set.Records {
			if rec.ID == "" {
				rec.ID = s.newID()
			}
			if err := upsertSubRecord(ctx, tx, set.ItemID, set.Type, rec, rec.AsOf); err != nil {
				return fmt.Errorf("failed to seed sub-record %s of %s: %w", rec.ID, set.ItemID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}

// =============================================================================
// remote.Schema
// =============================================================================

func (s *Store) Category(ctx context.Context, name string) (*remote.Category, error) {
	var c remote.Category
	err := s.pool.QueryRow(ctx,
		`SELECT name, value_list FROM si_categories WHERE lower(name) = lower(btrim($1))`, name,
	).Scan(&c.Name, &c.ValueList)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ValueListValues(ctx context.Context, list string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT value FROM si_value_lists WHERE list = $1 ORDER BY position, value`, list)
	if err != nil {
		return nil, err
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("value list %q not found", list)
	}
	return values, nil
}

func (s *Store) SubRecordTypeExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM si_sub_record_types WHERE lower(name) = lower(btrim($1)))`, name,
	).Scan(&exists)
	return exists, err
}

// =============================================================================
// remote.Store: items
// =============================================================================

func (s *Store) FindItemByName(ctx context.Context, name string) (*remote.Item, error) {
	return s.findItem(ctx, `
		SELECT id, name, status, type, coalesce(parent_id, '') FROM si_items
		WHERE lower(btrim(name)) = lower(btrim($1))
		ORDER BY created_at, id LIMIT 1`, name)
}

func (s *Store) FindItemByExternalID(ctx context.Context, field, value string) (*remote.Item, error) {
	return s.findItem(ctx, `
		SELECT i.id, i.name, i.status, i.type, coalesce(i.parent_id, '') FROM si_items i
		JOIN si_item_fields f ON f.item_id = i.id
		WHERE lower(f.field) = lower(btrim($1)) AND lower(btrim(f.value)) = lower(btrim($2))
		ORDER BY i.created_at, i.id LIMIT 1`, field, value)
}

func (s *Store) ListChildItems(ctx context.Context, parentID string) ([]remote.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, status, type, coalesce(parent_id, '') FROM si_items
		WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Fields, err = s.loadFields(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, item remote.NewItem) (string, error) {
	if item.ParentID != "" {
		if ok, err := s.itemExists(ctx, item.ParentID); err != nil {
			return "", err
		} else if !ok {
			return "", fmt.Errorf("parent %s: %w", item.ParentID, ErrItemNotFound)
		}
	}

	id := s.newID()
	status := item.Status
	if status == "" {
		status = remote.StatusOpen
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO si_items (id, name, status, type, parent_id) VALUES ($1, $2, $3, $4, $5)`,
		id, item.Name, string(status), item.Type, nullable(item.ParentID))
	if err != nil {
		return "", fmt.Errorf("failed to create item %q: %w", item.Name, err)
	}
	return id, nil
}

func (s *Store) UpdateItemStatus(ctx context.Context, id string, status remote.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE si_items SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}
	return nil
}

// UpdateFields writes every value it accepts in one transaction. Unknown
// categories and values outside a category's value list are reported as
// failures.
func (s *Store) UpdateFields(ctx context.Context, id string, values []remote.FieldValue) ([]remote.FieldFailure, error) {
	if ok, err := s.itemExists(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	schema, err := loadSchema(ctx, tx)
	if err != nil {
		return nil, err
	}

	var failures []remote.FieldFailure
	for i, v := range values {
		field, msg := schema.check(v.Field, v.Value)
		if msg != "" {
			failures = append(failures, remote.FieldFailure{Field: v.Field, Message: msg})
			continue
		}

		err := withSavepoint(ctx, tx, i, func() error {
			return upsertField(ctx, tx, id, field, v.Value)
		})
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			failures = append(failures, remote.FieldFailure{Field: v.Field, Message: pgErr.Message})
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit field update: %w", err)
	}
	return failures, nil
}

// =============================================================================
// remote.Store: sub-records
// =============================================================================

func (s *Store) ListSubRecordsAsOf(ctx context.Context, id, subType string, fields []string, asOf time.Time) ([]remote.SubRecord, error) {
	if ok, err := s.itemExists(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, serial, fields, as_of FROM si_sub_records
		WHERE item_id = $1 AND lower(sub_type) = lower($2)
		ORDER BY serial`, id, subType)
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, scanSubRecord)
	if err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		for i := range records {
			records[i].Fields = project(records[i].Fields, fields)
		}
	}
	return records, nil
}

// SyncSubRecordsAsOf upserts records by id in one transaction. Records with
// an unknown field or a serial already used by another record are rejected
// individually.
func (s *Store) SyncSubRecordsAsOf(ctx context.Context, id, subType string, records []remote.SubRecord, asOf time.Time) ([]remote.SubRecordFailure, error) {
	if ok, err := s.itemExists(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("item %s: %w", id, ErrItemNotFound)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	schema, err := loadSchema(ctx, tx)
	if err != nil {
		return nil, err
	}

	var failures []remote.SubRecordFailure
	for i, rec := range records {
		canonical, msg := schema.checkRecord(rec.Fields)
		if msg != "" {
			failures = append(failures, remote.SubRecordFailure{Serial: rec.Serial, ID: rec.ID, Message: msg})
			continue
		}

		c := rec
		c.Fields = canonical
		if c.ID == "" {
			c.ID = s.newID()
		}
		stamp := c.AsOf
		if stamp.IsZero() {
			stamp = asOf
		}

		err := withSavepoint(ctx, tx, i, func() error {
			return upsertSubRecord(ctx, tx, id, subType, c, stamp)
		})
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			msg := pgErr.Message
			if pgErr.Code == uniqueViolation {
				msg = fmt.Sprintf("serial %d already used", rec.Serial)
			}
			failures = append(failures, remote.SubRecordFailure{Serial: rec.Serial, ID: rec.ID, Message: msg})
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit sub-record sync: %w", err)
	}
	return failures, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *Store) findItem(ctx context.Context, query string, args ...any) (*remote.Item, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	item, err := pgx.CollectOneRow(rows, scanItem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.Fields, err = s.loadFields(ctx, item.ID); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) loadFields(ctx context.Context, itemID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, value FROM si_item_fields WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		fields[field] = value
	}
	return fields, rows.Err()
}

func (s *Store) itemExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM si_items WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanItem(row pgx.CollectableRow) (remote.Item, error) {
	var (
		item   remote.Item
		status string
	)
	if err := row.Scan(&item.ID, &item.Name, &status, &item.Type, &item.ParentID); err != nil {
		return item, err
	}
	item.Status = remote.ParseStatus(status)
	return item, nil
}

func scanSubRecord(row pgx.CollectableRow) (remote.SubRecord, error) {
	var (
		rec    remote.SubRecord
		fields []byte
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Serial, &fields, &rec.AsOf); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return rec, fmt.Errorf("sub-record %s: invalid fields: %w", rec.ID, err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]string)
	}
	return rec, nil
}

func upsertField(ctx context.Context, tx pgx.Tx, itemID, field, value string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO si_item_fields (item_id, field, value) VALUES ($1, $2, $3)
		ON CONFLICT (item_id, field) DO UPDATE SET value = EXCLUDED.value`,
		itemID, field, value)
	return err
}

// upsertSubRecord merges rec's fields into any stored record with the same id.
func upsertSubRecord(ctx context.Context, tx pgx.Tx, itemID, subType string, rec remote.SubRecord, asOf time.Time) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	if asOf.IsZero() {
		asOf = time.Now()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO si_sub_records (item_id, sub_type, id, name, serial, fields, as_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_id, sub_type, id) DO UPDATE SET
			name = EXCLUDED.name,
			serial = EXCLUDED.serial,
			fields = si_sub_records.fields || EXCLUDED.fields,
			as_of = EXCLUDED.as_of`,
		itemID, strings.ToLower(subType), rec.ID, rec.Name, rec.Serial, fields, asOf)
	return err
}

// withSavepoint runs fn inside a savepoint, rolling back to it on failure so
// the transaction stays usable.
func withSavepoint(ctx context.Context, tx pgx.Tx, n int, fn func() error) error {
	name := fmt.Sprintf("sp_%d", n)
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint: %w", rbErr)
		}
		return err
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func project(fields map[string]string, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		for f, v := range fields {
			if strings.EqualFold(f, name) {
				out[name] = v
			}
		}
	}
	return out
}

// =============================================================================
// SCHEMA CACHE
// =============================================================================

// schemaView is the category and value list state read once per transaction.
type schemaView struct {
	categories map[string]remote.Category
	lists      map[string][]string
}

func loadSchema(ctx context.Context, tx pgx.Tx) (*schemaView, error) {
	view := &schemaView{
		categories: make(map[string]remote.Category),
		lists:      make(map[string][]string),
	}

	rows, err := tx.Query(ctx, `SELECT name, value_list FROM si_categories`)
	if err != nil {
		return nil, err
	}
	categories, err := pgx.CollectRows(rows, pgx.RowToStructByPos[remote.Category])
	if err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}
	for _, c := range categories {
		view.categories[strings.ToLower(c.Name)] = c
	}

	rows, err = tx.Query(ctx, `SELECT list, value FROM si_value_lists ORDER BY list, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var list, value string
		if err := rows.Scan(&list, &value); err != nil {
			return nil, err
		}
		view.lists[list] = append(view.lists[list], value)
	}
	return view, rows.Err()
}

// check returns the category's defined spelling, or a failure message.
func (v *schemaView) check(field, value string) (string, string) {
	c, ok := v.categories[strings.ToLower(strings.TrimSpace(field))]
	if !ok {
		return "", fmt.Sprintf("category %q does not exist", field)
	}
	if c.ValueList != "" && value != "" && !slices.Contains(v.lists[c.ValueList], value) {
		return "", fmt.Sprintf("value %q is not in list %q", value, c.ValueList)
	}
	return c.Name, ""
}

func (v *schemaView) checkRecord(fields map[string]string) (map[string]string, string) {
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	slices.Sort(names)

	canonical := make(map[string]string, len(fields))
	for _, f := range names {
		name, msg := v.check(f, fields[f])
		if msg != "" {
			return nil, msg
		}
		canonical[name] = fields[f]
	}
	return canonical, ""
}
