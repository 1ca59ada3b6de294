package importer

import (
	"context"
	"fmt"

	"github.com/ginjaninja78/sheet-import/internal/logging"
	"github.com/ginjaninja78/sheet-import/internal/remote"
)

// ClearResult reports what Clear did.
type ClearResult struct {
	Success bool

	// Items is the number of items under the container.
	Items int

	// Cleared is the number of items whose field was emptied.
	Cleared int

	// AlreadyEmpty is the number of items that had no value to clear.
	AlreadyEmpty int

	Failures int
}

// Clear empties one field on every direct child of the import container.
// Items that already hold no value are left alone. In check mode the
// updates are only described.
func (r *Runner) Clear(ctx context.Context, field string) (*ClearResult, error) {
	result := &ClearResult{}

	category, err := r.store.Category(ctx, field)
	if err != nil {
		return result, fmt.Errorf("failed to look up category %q: %w", field, err)
	}
	if category == nil {
		return result, fmt.Errorf("category %q does not exist", field)
	}

	container, err := r.store.FindItemByName(ctx, r.opts.Container)
	if err != nil {
		return result, fmt.Errorf("failed to look up container %q: %w", r.opts.Container, err)
	}
	if container == nil {
		return result, fmt.Errorf("%w: %q", ErrContainerNotFound, r.opts.Container)
	}

	children, err := r.store.ListChildItems(ctx, container.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list items under %q: %w", container.Name, err)
	}
	result.Items = len(children)

	r.log.Info().
		Str(logging.EventKey, logging.EventClearStart).
		Str("field", category.Name).
		Str("container", container.Name).
		Int("items", len(children)).
		Bool("commit", r.opts.Commit).
		Msg("clearing field")

	for _, item := range children {
		log := r.log.With().Str("item_id", item.ID).Str("item", item.Name).Str("field", category.Name).Logger()

		if item.Field(category.Name) == "" {
			result.AlreadyEmpty++
			continue
		}

		if !r.opts.Commit {
			log.Info().Str(logging.EventKey, logging.EventClearWouldItem).Msg("would clear field")
			result.Cleared++
			continue
		}

		failures, err := r.store.UpdateFields(ctx, item.ID, []remote.FieldValue{{Field: category.Name, Value: ""}})
		if err != nil {
			return result, fmt.Errorf("failed to clear %q on %q: %w", category.Name, item.Name, err)
		}
		if len(failures) > 0 {
			for _, f := range failures {
				log.Warn().
					Str(logging.EventKey, logging.EventFieldFailed).
					Str("reason", f.Message).
					Msg("field not cleared")
			}
			result.Failures++
			continue
		}

		log.Info().Str(logging.EventKey, logging.EventClearItem).Msg("field cleared")
		result.Cleared++
	}

	result.Success = true
	r.log.Info().
		Str(logging.EventKey, logging.EventClearComplete).
		Int("cleared", result.Cleared).
		Int("already_empty", result.AlreadyEmpty).
		Int("failed", result.Failures).
		Msg("clear finished")
	return result, nil
}
