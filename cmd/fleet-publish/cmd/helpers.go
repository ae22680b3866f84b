package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/bianoble/fleet-publish/internal/config"
	"github.com/bianoble/fleet-publish/internal/engine"
	"github.com/bianoble/fleet-publish/internal/gitops"
	"github.com/bianoble/fleet-publish/internal/logging"
)

// lookupEnv is swapped out by tests.
var lookupEnv config.LookupFunc = os.LookupEnv

// loadConfig reads every config layer, binds credentials from the
// environment, and validates the result.
func loadConfig() (*config.Config, error) {
	cfg, layers, err := config.LoadLayered(config.DiscoverOptions{
		ProjectPath: configPath,
		NoInherit:   noInherit || config.NoInherit(lookupEnv),
	})
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	for _, l := range layers {
		if l.Loaded {
			detail("config %-7s %s", l.Level, l.Path)
		}
	}
	config.BindEnv(cfg, lookupEnv)
	if err := config.Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. The flag wins over
// FLEET_PUBLISH_LOG_LEVEL; --verbose and --quiet only adjust the default.
func newLogger() (zerolog.Logger, error) {
	level := logLevel
	if level == "" {
		if v, ok := lookupEnv(logging.EnvLogLevel); ok {
			level = v
		}
	}
	if level == "" {
		switch {
		case verbose:
			level = "debug"
		case quiet:
			level = "error"
		}
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(logFormat),
		App:    "fleet-publish",
	})
}

// setup loads the config and builds the logger and API clients.
func setup() (*config.Config, *engine.Clients, zerolog.Logger, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, logger, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, logger, err
	}
	clients, err := engine.NewClients(cfg, nil, logger)
	if err != nil {
		return nil, nil, logger, err
	}
	return cfg, clients, logger, nil
}

// readScript resolves one script option. Inline text and a local file both
// provide the uploaded contents; repoPath is recorded in the package file
// instead of the contents.
func readScript(inline, file, repoPath string) (gitops.Script, error) {
	if inline != "" && file != "" {
		return gitops.Script{}, fmt.Errorf("inline script and script file are mutually exclusive")
	}
	s := gitops.Script{Contents: inline, Path: repoPath}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return gitops.Script{}, fmt.Errorf("reading script: %w", err)
		}
		s.Contents = string(data)
	}
	return s, nil
}

// printWarnings reports best-effort failures without failing the command.
func printWarnings(warnings []engine.Warning) {
	for _, w := range warnings {
		warnf("%v", w)
	}
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// warnf prints a warning to stderr.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
