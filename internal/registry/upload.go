package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// UploadResult identifies a published package.
type UploadResult struct {
	TitleID     *int
	InstallerID *int
	Hash        string
	// AlreadyExisted is true when the package was found by the probe or the
	// server answered 409.
	AlreadyExisted bool
	// MatchedName is the registry's name for the title when found by probe.
	MatchedName string
}

// PackageOptions are the targeting and script fields sent with an upload.
type PackageOptions struct {
	SelfService       bool
	AutomaticInstall  bool
	LabelsIncludeAny  []string
	LabelsExcludeAny  []string
	InstallScript     string
	UninstallScript   string
	PreInstallQuery   string
	PostInstallScript string
}

// Validate checks the options before anything is sent.
func (o PackageOptions) Validate() error {
	if len(o.LabelsIncludeAny) > 0 && len(o.LabelsExcludeAny) > 0 {
		return ErrConflictingLabels
	}
	return nil
}

// UploadPackage uploads the installer at path. The file is streamed, never
// held in memory. A 409 response means another run already published it and
// is returned as AlreadyExisted rather than an error.
func (c *Client) UploadPackage(ctx context.Context, title, path string, opts PackageOptions) (*UploadResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeMultipart(mw, f, filepath.Base(path), opts))
	}()

	status, body, err := c.send(ctx, request{
		op:          "upload package",
		method:      http.MethodPost,
		path:        "/software/package",
		body:        pr,
		contentType: mw.FormDataContentType(),
		timeout:     c.uploadTimeout,
	})
	pr.Close()
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict {
		c.logger.Info().Str("title", title).Msg("package already exists on server")
		return &UploadResult{AlreadyExisted: true}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &PublishError{Title: title, Err: newAPIError("upload package", status, body)}
	}

	var resp struct {
		SoftwarePackage struct {
			TitleID     *int   `json:"title_id"`
			InstallerID *int   `json:"installer_id"`
			HashSHA256  string `json:"hash_sha256"`
		} `json:"software_package"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("upload package: decoding response: %w", err)
		}
	}
	return &UploadResult{
		TitleID:     resp.SoftwarePackage.TitleID,
		InstallerID: resp.SoftwarePackage.InstallerID,
		Hash:        resp.SoftwarePackage.HashSHA256,
	}, nil
}

// writeMultipart writes scalar fields first and the installer last.
func (c *Client) writeMultipart(mw *multipart.Writer, file io.Reader, fileName string, opts PackageOptions) error {
	fields := []struct{ name, value string }{
		{"team_id", strconv.Itoa(c.teamID)},
		{"self_service", strconv.FormatBool(opts.SelfService)},
	}
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, struct{ name, value string }{name, value})
		}
	}
	add("install_script", opts.InstallScript)
	add("uninstall_script", opts.UninstallScript)
	add("pre_install_query", opts.PreInstallQuery)
	add("post_install_script", opts.PostInstallScript)
	if opts.AutomaticInstall {
		add("automatic_install", "true")
	}
	for _, l := range opts.LabelsIncludeAny {
		add("labels_include_any", l)
	}
	for _, l := range opts.LabelsExcludeAny {
		add("labels_exclude_any", l)
	}

	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("software", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("streaming package: %w", err)
	}
	return mw.Close()
}
