// =============================================================================
// Sheet Import - Import Runner
// =============================================================================
//
// This module orchestrates one import run, from the Map and Data tables to
// remote mutations.
//
// IMPORT PIPELINE:
//   1. Check the input tables are not empty
//   2. Parse the Map table into a binding set
//   3. Validate the bindings and all data against the remote schema
//      (any issue stops the run before a single mutation)
//   4. Find or create the import container for new items
//   5. Reconcile every data row in order
//   6. Report statistics
//
// RUN MODES:
//   Check mode (the default) runs every read and describes every write as a
//   "would" event. Commit mode performs the writes. Rows are processed one at
//   a time in file order; nothing is cached between rows.
//
// =============================================================================

package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sheet-import/internal/binding"
	"github.com/ginjaninja78/sheet-import/internal/logging"
	"github.com/ginjaninja78/sheet-import/internal/reconcile"
	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/types"
	"github.com/ginjaninja78/sheet-import/internal/validation"
)

// DefaultContainer is the item new items are created under.
const DefaultContainer = "IMPORTED ITEMS"

var (
	// ErrValidationFailed is returned when schema validation reports issues.
	ErrValidationFailed = errors.New("schema validation failed")

	// ErrNoDataRows is returned when the Data table has no rows.
	ErrNoDataRows = errors.New("data table has no rows")

	// ErrNoMappingRows is returned when the Map table has no rows.
	ErrNoMappingRows = errors.New("mapping table has no rows")

	// ErrContainerNotFound is returned by Clear when the container is missing.
	ErrContainerNotFound = errors.New("import container not found")

	// ErrUnexpected wraps a panic recovered while processing rows.
	ErrUnexpected = errors.New("unexpected import failure")
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls an import run.
type Options struct {
	// Commit performs mutations. When false the run only describes them.
	Commit bool

	// CreateItems creates missing items identified by name.
	CreateItems bool

	// Container is the name of the item new items are created under.
	Container string

	// CheckStatus applies the status column.
	CheckStatus bool

	// SubRecordType imports rows as sub-records of this type.
	SubRecordType string

	// Now and NewToken override the clock and the sub-record token source.
	Now      func() time.Time
	NewToken func() string
}

// DefaultOptions returns check mode with status checking on.
func DefaultOptions() Options {
	return Options{
		Container:   DefaultContainer,
		CheckStatus: true,
	}
}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Stats contains run statistics. In check mode the counts describe what
// would have been done.
type Stats struct {
	Rows          int
	RowsApplied   int
	RowsUnchanged int
	RowsSkipped   int

	ContainerCreated bool
	ItemsCreated     int
	StatusChanges    int
	FieldsUpdated    int
	FieldFailures    int

	SubRecordsCreated int
	SubRecordsUpdated int
	SubRecordSyncs    int
	SyncFailures      int

	Duration time.Duration
}

// Result represents the outcome of an import run.
type Result struct {
	// Success is true when every row was processed without a fatal error.
	Success bool

	// Commit reports the run mode.
	Commit bool

	// Issues holds the schema validation issues that stopped the run.
	Issues []validation.Issue

	// Rows holds the outcome of each processed row.
	Rows []reconcile.RowResult

	Stats Stats

	// Error is the error that ended the run, if any.
	Error error
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes imports against a store.
type Runner struct {
	store remote.Store
	opts  Options
	log   zerolog.Logger
}

// New creates a Runner.
func New(store remote.Store, opts Options, log zerolog.Logger) *Runner {
	if opts.Container == "" {
		opts.Container = DefaultContainer
	}
	return &Runner{store: store, opts: opts, log: log}
}

// Run imports data according to mapping.
//
// PARAMETERS:
//   - ctx: Context for every store call.
//   - mapping: The Map table, one binding per row.
//   - data: The Data table.
//
// RETURNS:
//   - The run result. It is never nil.
//   - The error that ended the run: a structural or binding error, a wrapped
//     ErrValidationFailed, or a store fault. Rows already committed stay
//     committed. A panic is recovered, logged at fatal level and returned
//     as a wrapped ErrUnexpected.
func (r *Runner) Run(ctx context.Context, mapping, data *types.Table) (res *Result, err error) {
	started := time.Now()
	result := &Result{Commit: r.opts.Commit}
	defer func() { result.Stats.Duration = time.Since(started) }()
	defer func() {
		if p := recover(); p != nil {
			res, err = r.crash(result, p)
		}
	}()

	r.log.Info().
		Str(logging.EventKey, logging.EventRunStart).
		Bool("commit", r.opts.Commit).
		Str("sub_record_type", r.opts.SubRecordType).
		Msg("import started")

	// =========================================================================
	// STEP 1: CHECK INPUT
	// =========================================================================

	if mapping.Len() == 0 {
		return r.fail(result, ErrNoMappingRows)
	}
	if data.Len() == 0 {
		return r.fail(result, ErrNoDataRows)
	}

	// =========================================================================
	// STEP 2: PARSE BINDINGS
	// =========================================================================

	set, err := binding.FromTable(mapping)
	if err != nil {
		return r.fail(result, fmt.Errorf("invalid mapping: %w", err))
	}
	if set.Len() == 0 {
		return r.fail(result, ErrNoMappingRows)
	}

	// =========================================================================
	// STEP 3: VALIDATE AGAINST SCHEMA
	// =========================================================================

	r.log.Debug().
		Str(logging.EventKey, logging.EventValidationStart).
		Int("bindings", set.Len()).
		Int("rows", data.Len()).
		Msg("validating mapping")

	report, err := validation.Validate(ctx, r.store, set, data, validation.Options{SubRecordType: r.opts.SubRecordType})
	if err != nil {
		return r.fail(result, fmt.Errorf("failed to validate mapping: %w", err))
	}

	if !report.IsValid() {
		result.Issues = report.Issues
		for _, issue := range report.Issues {
			r.log.Error().
				Str(logging.EventKey, logging.EventValidationIssue).
				Str("kind", issue.Kind.String()).
				Str("field", issue.Field).
				Str("value", issue.Value).
				Msg(issue.Message)
		}
		return r.fail(result, fmt.Errorf("%w: %d issue(s)", ErrValidationFailed, len(report.Issues)))
	}
	report.Apply(set)

	r.log.Info().
		Str(logging.EventKey, logging.EventValidationPass).
		Int("categories", report.CategoriesChecked).
		Int("values", report.ValuesChecked).
		Msg("mapping is valid")

	// =========================================================================
	// STEP 4: IMPORT CONTAINER
	// =========================================================================

	identity, _ := set.Identity()

	var containerID string
	if r.opts.CreateItems && identity.Role == binding.RoleIdentityByName {
		containerID, err = r.resolveContainer(ctx, result)
		if err != nil {
			return r.fail(result, err)
		}
	}

	// =========================================================================
	// STEP 5: RECONCILE ROWS
	// =========================================================================

	rows := reconcile.NewRowReconciler(r.store, set, reconcile.Options{
		Commit:        r.opts.Commit,
		CreateItems:   r.opts.CreateItems,
		ContainerID:   containerID,
		CheckStatus:   r.opts.CheckStatus,
		SubRecordType: r.opts.SubRecordType,
		Now:           r.opts.Now,
		NewToken:      r.opts.NewToken,
	}, r.log)

	identityField := identity.Target
	if identityField == "" {
		identityField = identity.Name
	}

	for i, row := range data.Rows {
		r.log.Info().
			Str(logging.EventKey, logging.EventRowProcess).
			Int("row", row.Number).
			Int("n", i+1).
			Int("of", data.Len()).
			Str("identity_field", identityField).
			Str("identity", row.Cell(identity.Index)).
			Msg("processing row")

		rowResult, err := rows.Reconcile(ctx, row)
		if err != nil {
			return r.fail(result, err)
		}
		result.Rows = append(result.Rows, rowResult)
		result.Stats.add(rowResult)
	}

	// =========================================================================
	// COMPLETE
	// =========================================================================

	result.Success = true
	r.log.Info().
		Str(logging.EventKey, logging.EventRunComplete).
		Bool("commit", r.opts.Commit).
		Int("rows", result.Stats.Rows).
		Int("applied", result.Stats.RowsApplied).
		Int("unchanged", result.Stats.RowsUnchanged).
		Int("skipped", result.Stats.RowsSkipped).
		Int("items_created", result.Stats.ItemsCreated).
		Int("fields_updated", result.Stats.FieldsUpdated).
		Int("sub_records_created", result.Stats.SubRecordsCreated).
		Int("sub_records_updated", result.Stats.SubRecordsUpdated).
		Msg("import finished")

	return result, nil
}

// resolveContainer finds the import container, creating it in commit mode.
// In check mode a missing container is described and "" is returned.
func (r *Runner) resolveContainer(ctx context.Context, result *Result) (string, error) {
	container, err := r.store.FindItemByName(ctx, r.opts.Container)
	if err != nil {
		return "", fmt.Errorf("failed to look up container %q: %w", r.opts.Container, err)
	}
	if container != nil {
		r.log.Debug().
			Str(logging.EventKey, logging.EventContainerFound).
			Str("container", container.Name).
			Str("item_id", container.ID).
			Msg("using import container")
		return container.ID, nil
	}

	result.Stats.ContainerCreated = true
	if !r.opts.Commit {
		r.log.Info().
			Str(logging.EventKey, logging.EventContainerWouldCreate).
			Str("container", r.opts.Container).
			Msg("would create import container")
		return "", nil
	}

	id, err := r.store.CreateItem(ctx, remote.NewItem{
		Name:   r.opts.Container,
		Status: remote.StatusOpen,
		Type:   remote.TypeContainer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create container %q: %w", r.opts.Container, err)
	}

	r.log.Info().
		Str(logging.EventKey, logging.EventContainerCreated).
		Str("container", r.opts.Container).
		Str("item_id", id).
		Msg("created import container")
	return id, nil
}

// fail records err as the outcome of the run.
func (r *Runner) fail(result *Result, err error) (*Result, error) {
	result.Success = false
	result.Error = err
	r.log.Error().
		Str(logging.EventKey, logging.EventRunFailed).
		Err(err).
		Bool("commit", r.opts.Commit).
		Int("rows_done", len(result.Rows)).
		Msg("import failed")
	return result, err
}

// crash records a recovered panic as the outcome of the run.
func (r *Runner) crash(result *Result, p any) (*Result, error) {
	err := fmt.Errorf("%w: %v", ErrUnexpected, p)
	result.Success = false
	result.Error = err
	r.log.WithLevel(zerolog.FatalLevel).
		Str(logging.EventKey, logging.EventRunFailed).
		Err(err).
		Bool("commit", r.opts.Commit).
		Int("rows_done", len(result.Rows)).
		Msg("import aborted")
	return result, err
}

// add folds one row outcome into the statistics.
func (s *Stats) add(row reconcile.RowResult) {
	s.Rows++
	switch row.Disposition {
	case reconcile.Applied:
		s.RowsApplied++
	case reconcile.Unchanged:
		s.RowsUnchanged++
	case reconcile.Skipped:
		s.RowsSkipped++
	}

	if row.ItemCreated {
		s.ItemsCreated++
	}
	if row.StatusChanged {
		s.StatusChanges++
	}
	s.FieldsUpdated += row.FieldsUpdated
	s.FieldFailures += row.FieldFailures

	if row.SubRecords.Created {
		s.SubRecordsCreated++
	}
	if row.SubRecords.Updated {
		s.SubRecordsUpdated++
	}
	if row.SubRecords.Synced {
		s.SubRecordSyncs++
	}
	s.SyncFailures += row.SubRecords.Failures
}
