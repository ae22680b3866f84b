package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/store"
)

// PruneEngine applies store retention to one title.
type PruneEngine struct {
	Store  store.ObjectStore
	Prefix string
	Logger zerolog.Logger
}

// PruneOptions configures a prune operation.
type PruneOptions struct {
	Retain int
	DryRun bool
}

// Prune keeps the newest opts.Retain versions of title and deletes the rest.
// Per-key delete failures are reported in the result.
func (e *PruneEngine) Prune(ctx context.Context, title string, opts PruneOptions) (*store.RetentionResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &StepError{Step: StepValidate, Kind: KindValidation, Err: errors.New("title is required")}
	}
	c := &store.Collector{Store: e.Store, Prefix: e.Prefix, Logger: e.Logger, DryRun: opts.DryRun}
	res, err := c.Collect(ctx, title, opts.Retain)
	if err != nil {
		return nil, &StepError{Step: StepRetention, Kind: KindStoreFailed, Err: err}
	}
	return res, nil
}
