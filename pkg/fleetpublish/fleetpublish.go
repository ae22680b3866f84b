// Package fleetpublish is the public Go library API for fleet-publish.
//
// fleet-publish takes a freshly built installer, publishes it to a Fleet
// server, optionally mirrors it to S3-compatible storage, and converges the
// GitOps repository on a single shared branch and pull request.
//
// # Basic Usage
//
//	client, err := fleetpublish.New(fleetpublish.Options{
//	    ConfigPath: "fleet-publish.yaml",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Publish(ctx, fleetpublish.Artifact{
//	    Path:    "/tmp/Firefox-129.0.pkg",
//	    Title:   "Firefox",
//	    Version: "129.0",
//	})
package fleetpublish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/engine"
)

// ErrStoreDisabled is returned by Prune when no store is configured.
var ErrStoreDisabled = errors.New("store is not enabled in the configuration")

// Publisher runs the full publish pipeline for one artifact.
type Publisher interface {
	Publish(ctx context.Context, a Artifact) (*Result, error)
}

// Checker reports the registry's capability.
type Checker interface {
	Check(ctx context.Context) (*CheckResult, error)
}

// Prober asks whether a title version is already published.
type Prober interface {
	Probe(ctx context.Context, title, version string) (*ProbeResult, error)
}

// Pruner applies mirror retention to a title.
type Pruner interface {
	Prune(ctx context.Context, title string, opts PruneOptions) (*RetentionResult, error)
}

// Options configures a fleet-publish client.
type Options struct {
	// ConfigPath is the project config file. Default: "fleet-publish.yaml".
	ConfigPath string

	// NoInherit skips the system and user config layers.
	NoInherit bool

	// SystemConfigPath and UserConfigPath override the inherited layer
	// locations. Empty uses the OS defaults.
	SystemConfigPath string
	UserConfigPath   string

	// Lookup resolves credential environment variables. Default: os.LookupEnv.
	Lookup config.LookupFunc

	// WorkDir is where the config repository is cloned. Empty uses the
	// system temp directory.
	WorkDir string

	// HTTPClient is shared by every API client. Default: http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives structured logs. Default: disabled.
	Logger *zerolog.Logger
}

// Client is the main entry point for the fleet-publish library.
// It implements Publisher, Checker, Prober, and Pruner.
type Client struct {
	cfg     *config.Config
	clients *engine.Clients
	workDir string
	logger  zerolog.Logger
}

// New loads the layered configuration, binds credentials from the
// environment, and constructs the API clients it enables.
func New(opts Options) (*Client, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultFileName
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	cfg, _, err := config.LoadLayered(config.DiscoverOptions{
		ProjectPath:      opts.ConfigPath,
		SystemConfigPath: opts.SystemConfigPath,
		UserConfigPath:   opts.UserConfigPath,
		NoInherit:        opts.NoInherit || config.NoInherit(lookup),
	})
	if err != nil {
		return nil, err
	}
	config.BindEnv(cfg, lookup)
	if err := config.Finalize(cfg); err != nil {
		return nil, err
	}

	clients, err := engine.NewClients(cfg, opts.HTTPClient, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing clients: %w", err)
	}
	return &Client{cfg: cfg, clients: clients, workDir: opts.WorkDir, logger: logger}, nil
}

// Config returns the finalized configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Publish runs the publish pipeline for a.
func (c *Client) Publish(ctx context.Context, a Artifact) (*Result, error) {
	return c.clients.PublishEngine(c.cfg, c.workDir, c.logger).Publish(ctx, a)
}

// Check resolves the registry's version and schema variant.
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	eng := &engine.CheckEngine{
		Registry: c.clients.Registry,
		Minimum:  c.cfg.Registry.MinimumVersion,
		Logger:   c.logger,
	}
	return eng.Check(ctx)
}

// Probe reports whether title at version is already published.
func (c *Client) Probe(ctx context.Context, title, version string) (*ProbeResult, error) {
	eng := &engine.ProbeEngine{Registry: c.clients.Registry, Logger: c.logger}
	return eng.Probe(ctx, title, version)
}

// Prune applies retention to title's mirrored versions. A zero
// opts.Retain uses the configured depth.
func (c *Client) Prune(ctx context.Context, title string, opts PruneOptions) (*RetentionResult, error) {
	if c.clients.Store == nil {
		return nil, ErrStoreDisabled
	}
	if opts.Retain == 0 {
		opts.Retain = c.cfg.Store.RetainCount()
	}
	eng := &engine.PruneEngine{
		Store:  c.clients.Store,
		Prefix: c.cfg.Store.Prefix,
		Logger: c.logger,
	}
	return eng.Prune(ctx, title, opts)
}
