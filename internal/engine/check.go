package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/registry"
)

// CheckEngine reports the registry's capability and whether it is supported.
type CheckEngine struct {
	Registry registry.VersionSource
	Minimum  string
	Logger   zerolog.Logger
}

// CheckResult is the outcome of a capability check.
type CheckResult struct {
	Capability registry.Capability
	Minimum    string
	Supported  bool
	// Reason is set when Supported is false.
	Reason string
}

// Check resolves the registry capability. An unsupported version is
// reported in the result, not as an error.
func (e *CheckEngine) Check(ctx context.Context) (*CheckResult, error) {
	res := &CheckResult{Minimum: e.Minimum}
	capability, err := registry.ResolveCapability(ctx, e.Registry, e.Minimum, e.Logger)
	if err != nil {
		var unsupported *registry.UnsupportedVersionError
		if errors.As(err, &unsupported) {
			res.Capability.RawVersion = unsupported.Reported
			res.Reason = err.Error()
			return res, nil
		}
		return nil, &StepError{Step: StepCapability, Kind: KindValidation, Err: err}
	}
	res.Capability = capability
	res.Supported = true
	return res, nil
}
