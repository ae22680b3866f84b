package engine

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/github"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/store"
)

// Clients holds the API clients built from a finalized config. Store is nil
// when mirroring is disabled and GitHub is nil when GitOps is disabled.
type Clients struct {
	Registry *registry.Client
	Store    *store.Client
	GitHub   *github.Client
}

// NewClients constructs every client cfg enables. httpClient may be nil.
func NewClients(cfg *config.Config, httpClient *http.Client, logger zerolog.Logger) (*Clients, error) {
	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}
	doer := httpClient
	if doer == nil {
		doer = http.DefaultClient
	}

	c := &Clients{}
	c.Registry, err = registry.New(registry.Options{
		BaseURL:       cfg.Registry.URL,
		Token:         cfg.Registry.Token,
		TeamID:        cfg.Registry.TeamID,
		HTTPClient:    doer,
		Timeout:       timeouts.Registry,
		UploadTimeout: timeouts.Upload,
		Logger:        logger.With().Str("component", "registry").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}

	if cfg.Store.Enabled {
		c.Store, err = store.New(store.Options{
			Endpoint:        cfg.Store.Endpoint,
			Region:          cfg.Store.Region,
			Bucket:          cfg.Store.Bucket,
			AccessKeyID:     cfg.Store.AccessKeyID,
			SecretAccessKey: cfg.Store.SecretAccessKey,
			SessionToken:    cfg.Store.SessionToken,
			Timeout:         timeouts.Store,
			HTTPClient:      doer,
			Logger:          logger.With().Str("component", "store").Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("store client: %w", err)
		}
	}

	if cfg.GitOpsEnabled() {
		c.GitHub, err = github.NewClient(github.Config{
			BaseURL:    cfg.GitHub.APIURL,
			Token:      cfg.GitHub.Token,
			HTTPClient: doer,
			Timeout:    timeouts.GitHub,
			Logger:     logger.With().Str("component", "github").Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("github client: %w", err)
		}
	}
	return c, nil
}

// PublishEngine returns a PublishEngine wired to the clients.
func (c *Clients) PublishEngine(cfg *config.Config, workDir string, logger zerolog.Logger) *PublishEngine {
	e := &PublishEngine{
		Config:   cfg,
		Registry: c.Registry,
		WorkDir:  workDir,
		Logger:   logger,
	}
	if c.Store != nil {
		e.Store = c.Store
	}
	if c.GitHub != nil {
		e.PullRequests = c.GitHub
	}
	return e
}
