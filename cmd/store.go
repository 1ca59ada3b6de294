package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/sheet-import/internal/config"
	"github.com/ginjaninja78/sheet-import/internal/remote"
	"github.com/ginjaninja78/sheet-import/internal/store/memstore"
	"github.com/ginjaninja78/sheet-import/internal/store/pgstore"
)

// openedStore is a record store plus what to do with it when the command ends.
type openedStore struct {
	remote.Store

	// Driver names the backend for summaries.
	Driver string

	// close persists (file store, commit mode) and releases the store.
	close func(commit bool) error
}

// openStore opens the store selected by cfg.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*openedStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := pgstore.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("driver", config.DriverPostgres).Msg("connected to record store")
		return &openedStore{
			Store:  store,
			Driver: config.DriverPostgres,
			close: func(bool) error {
				store.Close()
				return nil
			},
		}, nil

	case config.DriverFile:
		store, err := memstore.Load(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("driver", config.DriverFile).Str("path", cfg.Store.Path).Msg("loaded record store")
		return &openedStore{
			Store:  store,
			Driver: config.DriverFile + ":" + cfg.Store.Path,
			close: func(commit bool) error {
				if !commit {
					return nil
				}
				if err := store.Save(cfg.Store.Path); err != nil {
					return err
				}
				log.Debug().Str("path", cfg.Store.Path).Msg("saved record store")
				return nil
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close persists and releases the store.
func (s *openedStore) Close(commit bool) error {
	return s.close(commit)
}
