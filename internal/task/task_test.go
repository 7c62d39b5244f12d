package task

import "testing"

func TestNormalizeSite(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AO3", "ao3"},
		{"  ffnet  ", "ffnet"},
		{"", SiteOther},
		{"   ", SiteOther},
	}

	for _, tt := range tests {
		if got := NormalizeSite(tt.in); got != tt.want {
			t.Errorf("NormalizeSite(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSiteForURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://archiveofourown.org/works/12345", "ao3"},
		{"https://www.fanfiction.net/s/98765/1/Some-Story", "ffnet"},
		{"https://forums.spacebattles.com/threads/thing.100/", "spacebattles"},
		{"https://www.royalroad.com/fiction/5/story", "royalroad"},
		{"www.wattpad.com/story/123", "wattpad"},
		{"https://example.com/story/1", SiteOther},
		{"not a url at all", SiteOther},
		{"", SiteOther},
	}

	for _, tt := range tests {
		if got := SiteForURL(tt.url); got != tt.want {
			t.Errorf("SiteForURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	tk := New("AO3", "https://archiveofourown.org/works/1")

	if tk.ID == "" {
		t.Error("expected generated ID")
	}
	if tk.Site != "ao3" {
		t.Errorf("Site = %q, want ao3", tk.Site)
	}
	if tk.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", tk.Attempts)
	}
	if tk.EnqueuedAt.IsZero() {
		t.Error("expected EnqueuedAt to be set")
	}
}
