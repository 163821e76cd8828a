package pathresolver

import (
	"errors"
	"regexp"
	"testing"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

func pattern(name, expr string, captureGroups ...string) *model.PathPattern {
	return &model.PathPattern{
		Name:          name,
		Matcher:       regexp.MustCompile(expr),
		CaptureGroups: captureGroups,
	}
}

func TestResolve(t *testing.T) {
	patterns := []*model.PathPattern{
		pattern("videos", `^/videos/(?P<videoId>[^/]+)$`),
		pattern("category", `^/media/(?P<category>[^/]+)/(?P<filename>[^/]+)$`),
		pattern("numbered", `^/legacy/([0-9]+)$`),
	}

	tests := []struct {
		name       string
		path       string
		wantErr    bool
		wantOrigin string
	}{
		{name: "named videoId capture", path: "/videos/clip.mp4", wantOrigin: "/clip.mp4"},
		{name: "named category+filename capture", path: "/media/sports/goal.mp4", wantOrigin: "/sports/goal.mp4"},
		{name: "no pattern matches", path: "/unknown/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Resolve(tt.path, "", patterns)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var e *errkind.Error
				if !errors.As(err, &e) || e.Kind != errkind.NoMatchingPattern {
					t.Fatalf("expected NoMatchingPattern, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.OriginPath != tt.wantOrigin {
				t.Errorf("OriginPath = %q, want %q", m.OriginPath, tt.wantOrigin)
			}
		})
	}
}

func TestResolve_PositionalCapture(t *testing.T) {
	patterns := []*model.PathPattern{
		pattern("numbered", `^/legacy/([0-9]+)$`),
	}

	m, err := Resolve("/legacy/42", "", patterns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Captures["1"]; got != "42" {
		t.Errorf("captures[1] = %q, want %q", got, "42")
	}
	if m.OriginPath != "42" {
		t.Errorf("OriginPath = %q, want %q", m.OriginPath, "42")
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	patterns := []*model.PathPattern{
		pattern("first", `^/videos/.*$`),
		pattern("second", `^/videos/clip\.mp4$`),
	}

	m, err := Resolve("/videos/clip.mp4", "", patterns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Pattern.Name != "first" {
		t.Errorf("Pattern.Name = %q, want %q (ordered iteration, first match wins)", m.Pattern.Name, "first")
	}
}

func TestResolve_FullMatchFallback(t *testing.T) {
	patterns := []*model.PathPattern{
		pattern("plain", `^/static/.*\.mp4$`),
	}

	m, err := Resolve("/static/deep/nested/file.mp4", "", patterns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.OriginPath != "/static/deep/nested/file.mp4" {
		t.Errorf("OriginPath = %q, want full matched substring", m.OriginPath)
	}
}

func TestForwardQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "strips transform params", query: "derivative=medium&width=100&foo=bar", want: "foo=bar"},
		{name: "keeps non-transform params", query: "a=1&b=2", want: "a=1&b=2"},
		{name: "empty query", query: "", want: ""},
		{name: "strips debug and nocache", query: "debug=view&nocache=1&keep=me", want: "keep=me"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForwardQuery(tt.query)
			if got != tt.want {
				t.Errorf("ForwardQuery(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}
