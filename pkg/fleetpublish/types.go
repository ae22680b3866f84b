package fleetpublish

import (
	"github.com/bianoble/fleet-publish/internal/engine"
	"github.com/bianoble/fleet-publish/internal/gitops"
	"github.com/bianoble/fleet-publish/internal/report"
	"github.com/bianoble/fleet-publish/internal/store"
)

// Type aliases re-export engine types as the public API.
// Users import "github.com/bianoble/fleet-publish/pkg/fleetpublish" and use
// fleetpublish.Artifact, fleetpublish.Result, etc.

type Artifact = engine.Artifact
type Script = gitops.Script
type Result = engine.Result
type Warning = engine.Warning
type StepError = engine.StepError
type Step = engine.Step
type Kind = engine.Kind
type CheckResult = engine.CheckResult
type ProbeResult = engine.ProbeResult
type PruneOptions = engine.PruneOptions
type RetentionResult = store.RetentionResult
type Outputs = report.Outputs
