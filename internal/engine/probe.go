package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/registry"
)

var errMissingTitleVersion = errors.New("title and version are required")

// ProbeEngine asks the registry whether a title version is published.
type ProbeEngine struct {
	Registry registry.TitleSearcher
	Logger   zerolog.Logger
}

// ProbeResult is the outcome of a probe. Existing is nil when not found.
type ProbeResult struct {
	Title    string
	Version  string
	Existing *registry.UploadResult
}

// Probe runs the existence probe. Unlike the publish pipeline, a failed
// lookup is returned as an error so the caller can tell it from "not found".
func (e *ProbeEngine) Probe(ctx context.Context, title, version string) (*ProbeResult, error) {
	title = strings.TrimSpace(title)
	version = strings.TrimSpace(version)
	if title == "" || version == "" {
		return nil, &StepError{Step: StepValidate, Kind: KindValidation, Err: errMissingTitleVersion}
	}
	existing, err := registry.FindExisting(ctx, e.Registry, title, version)
	if err != nil {
		return nil, fail(StepProbe, KindTransport, err)
	}
	if existing != nil {
		e.Logger.Debug().Str("matched", existing.MatchedName).Msg("probe matched")
	}
	return &ProbeResult{Title: title, Version: version, Existing: existing}, nil
}
