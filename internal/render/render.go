// Package render expands the text templates used for commit messages and
// pull request titles and bodies.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Vars are the fields available to commit message and title templates.
type Vars struct {
	Title    string
	Version  string
	Slug     string
	Platform string
	Hash     string

	// TitleID and InstallerID are zero when unknown.
	TitleID     int
	InstallerID int
}

var funcs = template.FuncMap{
	"contains": strings.Contains,
	"short": func(s string) string {
		if len(s) > 12 {
			return s[:12]
		}
		return s
	},
}

// Text executes tmpl against data. Unknown keys are an error.
func Text(name, tmpl string, data any) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", name, err)
	}
	return buf.String(), nil
}

// CommitMessage renders the commit message template.
func CommitMessage(tmpl string, v Vars) (string, error) {
	msg, err := Text("commit message", tmpl, v)
	if err != nil {
		return "", err
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", fmt.Errorf("commit message template rendered empty")
	}
	return msg, nil
}

// PullRequestTitle renders the pull request title template. Titles are a
// single line.
func PullRequestTitle(tmpl string, v Vars) (string, error) {
	title, err := Text("pull request title", tmpl, v)
	if err != nil {
		return "", err
	}
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return "", fmt.Errorf("pull request title template rendered empty")
	}
	return title, nil
}

// Package is one entry in the shared-branch package list.
type Package struct {
	Name     string
	Version  string
	FileName string
}

// SharedBody is the data for the shared-branch pull request body.
type SharedBody struct {
	Latest   Vars
	Packages []Package
}

const sharedBodyTemplate = "## AutoPkg Software Updates\n" +
	"\n" +
	"This PR contains software package updates from AutoPkg. All packages in this PR are already uploaded to Fleet and ready to deploy.\n" +
	"\n" +
	"{{if .Latest.Title}}### Latest Update\n" +
	"\n" +
	"**{{.Latest.Title}} {{.Latest.Version}}** was just added to this PR.\n" +
	"{{end}}" +
	"{{if .Packages}}\n" +
	"---\n" +
	"\n" +
	"### 📦 All Packages in This PR\n" +
	"\n" +
	"{{range .Packages}}- **{{.Name}}** `{{.Version}}`\n{{end}}" +
	"{{end}}"

// PullRequestBody renders the body for the shared branch: the package just
// added and every package currently on the branch.
func PullRequestBody(b SharedBody) (string, error) {
	return Text("pull request body", sharedBodyTemplate, b)
}

// PackageNote is the data for a single published package summary.
type PackageNote struct {
	Vars

	// PackagePath is the aggregator reference, e.g. ../lib/macos/software/firefox.yml.
	PackagePath      string
	SelfService      bool
	LabelsIncludeAny []string
	LabelsExcludeAny []string
}

const packageNoteTemplate = "### {{.Title}} {{.Version}}\n" +
	"\n" +
	"{{if .TitleID}}- Fleet title ID: `{{.TitleID}}`\n{{end}}" +
	"{{if .InstallerID}}- Fleet installer ID: `{{.InstallerID}}`\n{{end}}" +
	"{{if .Hash}}- SHA-256: `{{short .Hash}}`\n{{end}}" +
	"{{if .Slug}}- Software slug: `{{.Slug}}`\n" +
	"{{if contains .Slug \"/\"}}- [Changelog](https://github.com/{{.Slug}}/releases/tag/{{.Version}})\n{{end}}" +
	"{{end}}" +
	"\n" +
	"---\n" +
	"\n" +
	"### 📋 Team YAML Update Required\n" +
	"\n" +
	"To deploy this software, add the following to your team YAML:\n" +
	"\n" +
	"```yaml\n" +
	"- path: {{.PackagePath}}\n" +
	"{{if .SelfService}}  self_service: true\n{{end}}" +
	"{{if .LabelsIncludeAny}}  labels_include_any:\n{{range .LabelsIncludeAny}}    - {{.}}\n{{end}}{{end}}" +
	"{{if .LabelsExcludeAny}}  labels_exclude_any:\n{{range .LabelsExcludeAny}}    - {{.}}\n{{end}}{{end}}" +
	"```\n"

// PackageSummary renders a markdown summary of one published package with
// the team YAML entry an operator needs to deploy it.
func PackageSummary(n PackageNote) (string, error) {
	return Text("package summary", packageNoteTemplate, n)
}
