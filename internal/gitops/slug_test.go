package gitops

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Firefox", "firefox"},
		{"Google Chrome", "google-chrome"},
		{"  1Password 8 ", "1password-8"},
		{"zoom.us", "zoom-us"},
		{"---", "software"},
		{"", "software"},
		{"Microsoft Word (2024)", "microsoft-word-2024"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
