// =============================================================================
// Sheet Import - Row Reconciliation
// =============================================================================
//
// This module decides, for one data row, what has to happen to the item the
// row identifies:
//
//   1. Resolve the item by name or by external id.
//   2. Create it under the import container when it is missing, the row
//      identifies it by name and item creation is enabled. Otherwise skip.
//   3. Apply the status column (CLOSED / CANDIDATE) when status checking is on.
//   4. Write the row's field values to the item, or hand the row to the
//      SubRecordReconciler when importing sub-records.
//
// In check mode every mutating call is replaced by a "would" event and the
// store is only read.
//
// =============================================================================

package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sheet-import/internal/binding"
	"github.com/ginjaninja78/sheet-import/internal/logging"
	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/types"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Disposition is the outcome of reconciling one row.
type Disposition int

const (
	// Applied means the row changed remote state (or would have, in check mode).
	Applied Disposition = iota

	// Unchanged means the remote state already matched the row.
	Unchanged

	// Skipped means the row's item could not be resolved.
	Skipped
)

func (d Disposition) String() string {
	switch d {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// RowResult describes what reconciling one row did.
type RowResult struct {
	Row         int
	Identity    string
	ItemID      string
	Disposition Disposition

	// Reason explains a Skipped disposition.
	Reason string

	ItemCreated   bool
	StatusChanged bool
	FieldsUpdated int
	FieldFailures int

	SubRecords SubResult
}

func (r RowResult) changed() bool {
	return r.ItemCreated || r.StatusChanged || r.FieldsUpdated > 0 || r.SubRecords.Dirty()
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls how rows are reconciled.
type Options struct {
	// Commit enables mutations. When false the reconcilers only describe them.
	Commit bool

	// CreateItems creates items that are missing when identified by name.
	CreateItems bool

	// ContainerID is the parent of created items.
	ContainerID string

	// CheckStatus enables the status column.
	CheckStatus bool

	// SubRecordType selects sub-record import. Empty updates item fields.
	SubRecordType string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// NewToken generates sub-record tokens. Defaults to uuid.NewString.
	NewToken func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewToken == nil {
		o.NewToken = uuid.NewString
	}
	return o
}

// statusTokens maps status column values to item statuses. Anything else
// leaves the status alone.
var statusTokens = map[string]remote.Status{
	"CLOSED":    remote.StatusClosed,
	"CANDIDATE": remote.StatusCandidate,
}

// StatusFromToken maps a status column value. ok is false when the value
// does not request a change.
func StatusFromToken(value string) (status remote.Status, ok bool) {
	status, ok = statusTokens[strings.ToUpper(strings.TrimSpace(value))]
	return status, ok
}

// =============================================================================
// ROW RECONCILER
// =============================================================================

// RowReconciler applies data rows to items.
type RowReconciler struct {
	store remote.Store
	set   *binding.Set
	opts  Options
	log   zerolog.Logger
	subs  *SubRecordReconciler
}

// NewRowReconciler creates a RowReconciler. The binding set must have an
// identity binding.
func NewRowReconciler(store remote.Store, set *binding.Set, opts Options, log zerolog.Logger) *RowReconciler {
	opts = opts.withDefaults()
	r := &RowReconciler{store: store, set: set, opts: opts, log: log}
	if opts.SubRecordType != "" {
		r.subs = NewSubRecordReconciler(store, set, opts, log)
	}
	return r
}

// Reconcile processes one data row. The returned error is a store fault and
// should end the run; everything recoverable is reported in the result.
func (r *RowReconciler) Reconcile(ctx context.Context, row types.Row) (RowResult, error) {
	result := RowResult{Row: row.Number}

	identity, ok := r.set.Identity()
	if !ok {
		return result, fmt.Errorf("row %d: no identity binding", row.Number)
	}
	result.Identity = strings.TrimSpace(row.Cell(identity.Index))
	log := r.log.With().Int("row", row.Number).Str("identity", result.Identity).Logger()

	if result.Identity == "" {
		return r.skip(log, result, "identity value is blank"), nil
	}

	// =========================================================================
	// RESOLVE OR CREATE ITEM
	// =========================================================================

	item, err := r.resolve(ctx, identity, result.Identity)
	if err != nil {
		return result, fmt.Errorf("row %d: failed to resolve item %q: %w", row.Number, result.Identity, err)
	}

	if item == nil {
		if identity.Role != binding.RoleIdentityByName {
			return r.skip(log, result, fmt.Sprintf("no item has %s %q", identity.Target, result.Identity)), nil
		}
		if !r.opts.CreateItems {
			return r.skip(log, result, "item not found and item creation is disabled"), nil
		}

		item, err = r.create(ctx, log, result.Identity)
		if err != nil {
			return result, fmt.Errorf("row %d: %w", row.Number, err)
		}
		result.ItemCreated = true
	}
	result.ItemID = item.ID
	log = log.With().Str("item_id", item.ID).Logger()

	// =========================================================================
	// STATUS
	// =========================================================================

	if err := r.applyStatus(ctx, log, item, row, &result); err != nil {
		return result, fmt.Errorf("row %d: %w", row.Number, err)
	}

	// =========================================================================
	// FIELDS OR SUB-RECORDS
	// =========================================================================

	if r.subs != nil {
		result.SubRecords, err = r.subs.Reconcile(ctx, item, row)
		if err != nil {
			return result, fmt.Errorf("row %d: %w", row.Number, err)
		}
	} else if err := r.applyFields(ctx, log, item, row, &result); err != nil {
		return result, fmt.Errorf("row %d: %w", row.Number, err)
	}

	result.Disposition = Unchanged
	if result.changed() {
		result.Disposition = Applied
	}
	return result, nil
}

// resolve looks the item up. It is called for every row: an identity that
// repeats is looked up again so earlier rows' changes are visible.
func (r *RowReconciler) resolve(ctx context.Context, identity binding.ColumnBinding, value string) (*remote.Item, error) {
	if identity.Role == binding.RoleIdentityByExternalID {
		return r.store.FindItemByExternalID(ctx, identity.Target, value)
	}
	return r.store.FindItemByName(ctx, value)
}

// create makes a new open item under the import container and re-reads it.
// In check mode it returns an unsaved placeholder.
func (r *RowReconciler) create(ctx context.Context, log zerolog.Logger, name string) (*remote.Item, error) {
	if !r.opts.Commit {
		log.Info().
			Str(logging.EventKey, logging.EventItemWouldCreate).
			Str("parent_id", r.opts.ContainerID).
			Msgf("would create item %q", name)
		return &remote.Item{Name: name, Status: remote.StatusOpen, ParentID: r.opts.ContainerID}, nil
	}

	id, err := r.store.CreateItem(ctx, remote.NewItem{
		Name:     name,
		ParentID: r.opts.ContainerID,
		Status:   remote.StatusOpen,
		Type:     remote.TypeItem,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create item %q: %w", name, err)
	}

	log.Info().
		Str(logging.EventKey, logging.EventItemCreated).
		Str("item_id", id).
		Str("parent_id", r.opts.ContainerID).
		Msgf("created item %q", name)

	item, err := r.store.FindItemByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read created item %q: %w", name, err)
	}
	if item == nil {
		return nil, fmt.Errorf("created item %q (%s) cannot be found", name, id)
	}
	return item, nil
}

func (r *RowReconciler) applyStatus(ctx context.Context, log zerolog.Logger, item *remote.Item, row types.Row, result *RowResult) error {
	statusBinding, ok := r.set.Status()
	if !ok || !r.opts.CheckStatus {
		return nil
	}

	status, ok := StatusFromToken(row.Cell(statusBinding.Index))
	if !ok || status == item.Status {
		return nil
	}

	if !r.opts.Commit {
		log.Info().
			Str(logging.EventKey, logging.EventStatusWouldChange).
			Str("from", string(item.Status)).
			Str("to", string(status)).
			Msg("would change status")
	} else {
		if err := r.store.UpdateItemStatus(ctx, item.ID, status); err != nil {
			return fmt.Errorf("failed to set status of %q: %w", item.Name, err)
		}
		log.Info().
			Str(logging.EventKey, logging.EventStatusChanged).
			Str("from", string(item.Status)).
			Str("to", string(status)).
			Msg("status changed")
	}

	item.Status = status
	result.StatusChanged = true
	return nil
}

// applyFields writes the row's mapped values that differ from the item's
// stored values in one batched call.
func (r *RowReconciler) applyFields(ctx context.Context, log zerolog.Logger, item *remote.Item, row types.Row, result *RowResult) error {
	var values []remote.FieldValue
	for _, b := range r.set.Fields() {
		value := row.Cell(b.Index)
		if value == item.Field(b.Target) {
			continue
		}
		values = append(values, remote.FieldValue{Field: b.Target, Value: value})
	}

	if len(values) == 0 {
		log.Debug().Str(logging.EventKey, logging.EventFieldsUpdated).Int("fields", 0).Msg("fields already up to date")
		return nil
	}

	if !r.opts.Commit {
		log.Info().
			Str(logging.EventKey, logging.EventFieldsWouldUpdate).
			Strs("fields", fieldNames(values)).
			Msgf("would update %d field(s)", len(values))
		result.FieldsUpdated = len(values)
		return nil
	}

	failures, err := r.store.UpdateFields(ctx, item.ID, values)
	if err != nil {
		return fmt.Errorf("failed to update fields of %q: %w", item.Name, err)
	}

	for _, f := range failures {
		log.Warn().
			Str(logging.EventKey, logging.EventFieldFailed).
			Str("field", f.Field).
			Str("reason", f.Message).
			Msg("field update failed")
	}

	result.FieldFailures = len(failures)
	result.FieldsUpdated = len(values) - len(failures)
	log.Info().
		Str(logging.EventKey, logging.EventFieldsUpdated).
		Int("fields", result.FieldsUpdated).
		Int("failed", result.FieldFailures).
		Msg("fields updated")
	return nil
}

func (r *RowReconciler) skip(log zerolog.Logger, result RowResult, reason string) RowResult {
	log.Warn().
		Str(logging.EventKey, logging.EventRowSkipped).
		Str("reason", reason).
		Msg("row skipped")
	result.Disposition = Skipped
	result.Reason = reason
	return result
}

func fieldNames(values []remote.FieldValue) []string {
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Field
	}
	return names
}
