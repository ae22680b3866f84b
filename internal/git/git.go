// Package git wraps the git CLI for the GitOps working tree: clone, shared
// branch checkout, conditional commit and push.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
)

// CommandError is a failed git invocation. Stderr is kept verbatim, with
// credentials redacted.
type CommandError struct {
	Args     []string
	Dir      string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Repository is a working tree. Every command runs with -C dir.
type Repository struct {
	dir     string
	secrets []string
}

// NewRepository returns a Repository for dir. Secrets are redacted from
// error messages.
func NewRepository(dir string, secrets ...string) *Repository {
	return &Repository{dir: dir, secrets: nonEmpty(secrets)}
}

// Dir returns the working tree directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes git in the working tree and returns trimmed stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return run(ctx, r.dir, r.secrets, args...)
}

func run(ctx context.Context, dir string, secrets []string, args ...string) (string, error) {
	fullArgs := args
	if dir != "" {
		fullArgs = append([]string{"-C", dir}, args...)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		ce := &CommandError{
			Args:     redactAll(args, secrets),
			Dir:      dir,
			Stderr:   redact(strings.TrimSpace(stderr.String()), secrets),
			ExitCode: -1,
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitCode = exitErr.ExitCode()
		}
		return "", ce
	}
	return strings.TrimSpace(stdout.String()), nil
}

// AuthenticatedURL embeds token in an https URL that carries no credentials.
// Other URLs are returned unchanged.
func AuthenticatedURL(rawURL, token string) string {
	if token == "" || !strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.User != nil {
		return rawURL
	}
	u.User = url.User(token)
	return u.String()
}

func redact(s string, secrets []string) string {
	for _, secret := range secrets {
		s = strings.ReplaceAll(s, secret, "***")
		if escaped := url.PathEscape(secret); escaped != secret {
			s = strings.ReplaceAll(s, escaped, "***")
		}
	}
	return s
}

func redactAll(args, secrets []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = redact(a, secrets)
	}
	return out
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
