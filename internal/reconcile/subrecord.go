package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sheet-import/internal/binding"
	"github.com/ginjaninja78/sheet-import/internal/logging"
	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/types"
)

// MatchMode is how a row found (or failed to find) its sub-record.
type MatchMode string

const (
	MatchExplicit  MatchMode = "explicit"
	MatchComposite MatchMode = "composite"
)

// SubResult describes the sub-record work done for one row.
type SubResult struct {
	Mode MatchMode

	// Serial is the serial of the matched or created sub-record.
	Serial int

	Created  bool
	Updated  bool
	Synced   bool
	Failures int

	// Changed lists the fields that differed on a matched sub-record.
	Changed []string
}

// Dirty reports whether the row created or modified a sub-record.
func (s SubResult) Dirty() bool {
	return s.Created || s.Updated
}

// SubRecordReconciler matches a row against an item's sub-records and
// updates one in place or appends a new one.
type SubRecordReconciler struct {
	store remote.Store
	set   *binding.Set
	opts  Options
	log   zerolog.Logger
}

// NewSubRecordReconciler creates a SubRecordReconciler for opts.SubRecordType.
func NewSubRecordReconciler(store remote.Store, set *binding.Set, opts Options, log zerolog.Logger) *SubRecordReconciler {
	return &SubRecordReconciler{store: store, set: set, opts: opts.withDefaults(), log: log}
}

// Reconcile applies row to the sub-records of item. The snapshot is read
// once as of the start of the call and written back with at most one sync.
func (s *SubRecordReconciler) Reconcile(ctx context.Context, item *remote.Item, row types.Row) (SubResult, error) {
	now := s.opts.Now()
	log := s.log.With().Int("row", row.Number).Str("item_id", item.ID).Str("type", s.opts.SubRecordType).Logger()

	fields := s.set.FieldNames()
	incoming := make(map[string]string, len(fields))
	for _, b := range s.set.Fields() {
		incoming[b.Target] = row.Cell(b.Index)
	}

	var snapshot []remote.SubRecord
	if item.ID != "" {
		var err error
		snapshot, err = s.store.ListSubRecordsAsOf(ctx, item.ID, s.opts.SubRecordType, fields, now)
		if err != nil {
			return SubResult{}, fmt.Errorf("failed to read %s sub-records of %q: %w", s.opts.SubRecordType, item.Name, err)
		}
	}

	records := make([]remote.SubRecord, len(snapshot))
	for i, rec := range snapshot {
		records[i] = rec.Clone()
	}

	// =========================================================================
	// MATCH
	// =========================================================================

	var result SubResult
	var idx int
	explicitKey, hasExplicit := s.explicitKey(row)
	if hasExplicit {
		result.Mode = MatchExplicit
		idx = matchExplicit(records, explicitKey)
	} else {
		result.Mode = MatchComposite
		idx = matchComposite(records, s.compositeKeys(), incoming)
	}

	// =========================================================================
	// APPEND OR UPDATE
	// =========================================================================

	if idx < 0 {
		rec := remote.SubRecord{
			Name:   s.opts.NewToken(),
			Serial: nextSerial(records),
			Fields: make(map[string]string, len(incoming)),
			AsOf:   day(now),
		}
		rec.ID = rec.Name
		if hasExplicit {
			rec.ID = explicitKey
		}
		for _, f := range fields {
			rec.Fields[f] = incoming[f]
		}
		records = append(records, rec)

		result.Created = true
		result.Serial = rec.Serial
		log.Info().
			Str(logging.EventKey, logging.EventSubRecordCreated).
			Str("mode", string(result.Mode)).
			Int("serial", rec.Serial).
			Str("sub_record_id", rec.ID).
			Msg("new sub-record")
	} else {
		rec := &records[idx]
		for _, f := range fields {
			if fieldValue(rec.Fields, f) == incoming[f] {
				continue
			}
			setField(rec.Fields, f, incoming[f])
			result.Changed = append(result.Changed, f)
		}

		result.Serial = rec.Serial
		if len(result.Changed) > 0 {
			rec.AsOf = day(now)
			result.Updated = true
			log.Info().
				Str(logging.EventKey, logging.EventSubRecordUpdated).
				Str("mode", string(result.Mode)).
				Int("serial", rec.Serial).
				Strs("fields", result.Changed).
				Msg("sub-record changed")
		} else {
			log.Debug().
				Str(logging.EventKey, logging.EventSubRecordUnchanged).
				Str("mode", string(result.Mode)).
				Int("serial", rec.Serial).
				Msg("sub-record up to date")
		}
	}

	if !result.Dirty() {
		return result, nil
	}

	// =========================================================================
	// SYNC
	// =========================================================================

	if !s.opts.Commit {
		log.Info().
			Str(logging.EventKey, logging.EventSubRecordsWouldSync).
			Int("records", len(records)).
			Msg("would synchronize sub-records")
		return result, nil
	}

	failures, err := s.store.SyncSubRecordsAsOf(ctx, item.ID, s.opts.SubRecordType, records, now)
	if err != nil {
		return result, fmt.Errorf("failed to synchronize %s sub-records of %q: %w", s.opts.SubRecordType, item.Name, err)
	}
	for _, f := range failures {
		log.Warn().
			Str(logging.EventKey, logging.EventSubRecordSyncFailed).
			Int("serial", f.Serial).
			Str("sub_record_id", f.ID).
			Str("reason", f.Message).
			Msg("sub-record not saved")
	}

	result.Synced = true
	result.Failures = len(failures)
	log.Info().
		Str(logging.EventKey, logging.EventSubRecordsSynced).
		Int("records", len(records)).
		Int("failed", len(failures)).
		Msg("sub-records synchronized")
	return result, nil
}

// explicitKey returns the row's explicit sub-record id, if the column is
// bound and the cell is not blank.
func (s *SubRecordReconciler) explicitKey(row types.Row) (string, bool) {
	b, ok := s.set.ExplicitKey()
	if !ok {
		return "", false
	}
	key := strings.TrimSpace(row.Cell(b.Index))
	return key, key != ""
}

// compositeKeys returns the composite key fields. The explicit-id sentinel
// names no field, so it yields none.
func (s *SubRecordReconciler) compositeKeys() []string {
	keys := s.set.SubRecordKeyFields()
	if len(keys) == 1 && keys[0] == binding.ExplicitKeySentinel {
		return nil
	}
	return keys
}

// =============================================================================
// MATCHING
// =============================================================================

// matchExplicit returns the index of the first record whose id equals key,
// ignoring case and surrounding whitespace, or -1.
func matchExplicit(records []remote.SubRecord, key string) int {
	for i, rec := range records {
		if looseEqual(rec.ID, key) {
			return i
		}
	}
	return -1
}

// matchComposite returns the index of the first record whose every key field
// loosely equals the incoming value, or -1. Later equal matches are ignored.
func matchComposite(records []remote.SubRecord, keys []string, incoming map[string]string) int {
	if len(keys) == 0 {
		return -1
	}
	for i, rec := range records {
		matched := true
		for _, k := range keys {
			if !looseEqual(fieldValue(rec.Fields, k), incoming[k]) {
				matched = false
				break
			}
		}
		if matched {
			return i
		}
	}
	return -1
}

// looseEqual is the lookup comparison: trimmed and case-insensitive.
// Change detection compares exactly instead.
func looseEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func nextSerial(records []remote.SubRecord) int {
	highest := 0
	for _, rec := range records {
		if rec.Serial > highest {
			highest = rec.Serial
		}
	}
	return highest + 1
}

// fieldValue reads a field by name, falling back to a case-insensitive match.
func fieldValue(fields map[string]string, name string) string {
	if v, ok := fields[name]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func setField(fields map[string]string, name, value string) {
	for k := range fields {
		if k != name && strings.EqualFold(k, name) {
			delete(fields, k)
		}
	}
	fields[name] = value
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
