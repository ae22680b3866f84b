package gitops

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bianoble/fleet-publish/internal/platform"
	"github.com/bianoble/fleet-publish/internal/registry"
	"github.com/bianoble/fleet-publish/internal/sandbox"
)

func newSynchronizer(t *testing.T) *Synchronizer {
	t.Helper()
	root, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Synchronizer{
		Root: root,
		Layout: Layout{
			SoftwareDir:  "lib/macos/software",
			Suffix:       ".yml",
			TeamYAMLPath: "teams/workstations.yml",
			PathPrefix:   "../lib/macos/software/",
		},
	}
}

func TestSynchronizerWritesAndDetectsNoChange(t *testing.T) {
	s := newSynchronizer(t)
	spec := PackageSpec{Name: "Firefox", Version: "1.2.3", Platform: platform.Darwin, Hash: "abc"}

	c, err := s.WritePackage("firefox", spec, registry.SchemaCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "lib/macos/software/firefox.yml" || !c.Changed {
		t.Errorf("first write = %+v", c)
	}
	c, err = s.WritePackage("firefox", spec, registry.SchemaCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if c.Changed {
		t.Error("identical rewrite reported as changed")
	}

	fields := TeamFields(Targeting{SelfService: true}, registry.SchemaCurrent)
	c, err = s.MergeTeam("firefox", fields)
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "teams/workstations.yml" || !c.Changed {
		t.Errorf("team merge = %+v", c)
	}
	c, err = s.MergeTeam("firefox", fields)
	if err != nil {
		t.Fatal(err)
	}
	if c.Changed {
		t.Error("repeated team merge reported as changed")
	}

	data, err := s.Root.ReadFile("teams/workstations.yml")
	if err != nil {
		t.Fatal(err)
	}
	paths, _ := TeamEntries(data)
	if !reflect.DeepEqual(paths, []string{"../lib/macos/software/firefox.yml"}) {
		t.Errorf("team entries = %v", paths)
	}
}

func TestSynchronizerNoTeamDocument(t *testing.T) {
	s := newSynchronizer(t)
	s.Layout.TeamYAMLPath = ""
	c, err := s.MergeTeam("firefox", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c != (Change{}) {
		t.Errorf("change = %+v, want zero", c)
	}
}

func TestSynchronizerRejectsDuplicateTeamEntries(t *testing.T) {
	s := newSynchronizer(t)
	doc := `software:
  packages:
    - path: ../lib/macos/software/firefox.yml
    - path: ../lib/macos/software/firefox.yml
`
	if err := s.Root.WriteFile("teams/workstations.yml", []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := s.MergeTeam("firefox", nil)
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("err = %v, want ErrDuplicateEntry", err)
	}
	data, _ := s.Root.ReadFile("teams/workstations.yml")
	if string(data) != doc {
		t.Error("team document was rewritten despite the error")
	}
}

func TestScanPackages(t *testing.T) {
	s := newSynchronizer(t)
	for _, spec := range []PackageSpec{
		{Name: "Slack", Version: "4.41", Platform: platform.Darwin},
		{Name: "Firefox", Version: "1.2.3", Platform: platform.Darwin},
	} {
		if _, err := s.WritePackage(Slugify(spec.Name), spec, registry.SchemaCurrent); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Root.WriteFile("lib/macos/software/broken.yml", []byte(":\n  - ["), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Root.WriteFile("lib/macos/software/notes.txt", []byte("name: x\nversion: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := s.ScanPackages()
	if err != nil {
		t.Fatal(err)
	}
	want := []PackageSummary{
		{Name: "Firefox", Version: "1.2.3", FileName: "firefox.yml"},
		{Name: "Slack", Version: "4.41", FileName: "slack.yml"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanPackages = %+v, want %+v", got, want)
	}
}

func TestScanPackagesMissingDir(t *testing.T) {
	s := newSynchronizer(t)
	got, err := s.ScanPackages()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want none", got)
	}
}
