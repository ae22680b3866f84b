package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func intPtr(i int) *int { return &i }

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "outputs.yaml")
	in := &Outputs{
		Title:          "Firefox",
		SoftwareVer:    "1.2.3",
		TitleID:        intPtr(42),
		InstallerID:    intPtr(99),
		HashSHA256:     testHash,
		SchemaVariant:  "current",
		GitBranch:      "autopkg/software-updates",
		Committed:      true,
		PullRequestURL: "https://github.com/acme/gitops/pull/7",
		Warnings:       []string{"add labels on #7: boom"},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != FormatVersion {
		t.Errorf("Version = %d, want %d", got.Version, FormatVersion)
	}
	if got.TitleID == nil || *got.TitleID != 42 {
		t.Errorf("TitleID = %v, want 42", got.TitleID)
	}
	if got.InstallerID == nil || *got.InstallerID != 99 {
		t.Errorf("InstallerID = %v, want 99", got.InstallerID)
	}
	if got.PullRequestURL != in.PullRequestURL || !got.Committed {
		t.Errorf("got %+v", got)
	}
	if len(got.Warnings) != 1 {
		t.Errorf("Warnings = %v", got.Warnings)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outputs.yaml")
	if err := Save(path, &Outputs{Title: "Firefox"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "outputs.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v", names)
	}
}

func TestSaveNullIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs.yaml")
	if err := Save(path, &Outputs{Title: "Firefox", AlreadyExisted: true}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"title_id: null", "installer_id: null", "already_existed: true", "pull_request_url: \"\""} {
		if !strings.Contains(string(data), want) {
			t.Errorf("missing %q in:\n%s", want, data)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		out  Outputs
		want string
	}{
		{"bad version", Outputs{Version: 2, Title: "x"}, "unsupported version"},
		{"no title", Outputs{Version: 1}, "'title' is required"},
		{"bad hash", Outputs{Version: 1, Title: "x", HashSHA256: "abc"}, "not a 64-character"},
		{"url without branch", Outputs{Version: 1, Title: "x", PullRequestURL: "https://x"}, "git_branch is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.out)
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", errs, tt.want)
			}
		})
	}
	if errs := Validate(&Outputs{Version: 1, Title: "x", HashSHA256: testHash}); len(errs) != 0 {
		t.Errorf("valid outputs rejected: %v", errs)
	}
}
