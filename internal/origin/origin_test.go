package origin

import (
	"testing"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

func TestCandidates_OrderedByPriority(t *testing.T) {
	pattern := &model.PathPattern{
		Origin: &model.Origin{
			Sources: []model.Source{
				{Type: model.SourceFallback, Priority: 2, URL: "https://fallback.example"},
				{Type: model.SourceRemote, Priority: 1, URL: "https://remote.example"},
				{Type: model.SourceObjectStore, Priority: 0, BucketBinding: "videos"},
			},
		},
	}

	got := Candidates(pattern, "/clip.mp4")
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].Source.Type != model.SourceObjectStore {
		t.Errorf("first candidate = %v, want objectStore (priority 0)", got[0].Source.Type)
	}
	if got[1].Source.Type != model.SourceRemote {
		t.Errorf("second candidate = %v, want remote (priority 1)", got[1].Source.Type)
	}
	if got[2].Source.Type != model.SourceFallback {
		t.Errorf("third candidate = %v, want fallback (priority 2)", got[2].Source.Type)
	}
}

func TestCandidates_NoOrigin(t *testing.T) {
	pattern := &model.PathPattern{}
	if got := Candidates(pattern, "/clip.mp4"); got != nil {
		t.Errorf("expected nil for pattern with no origin, got %v", got)
	}
}

func TestApplyPathTransform(t *testing.T) {
	tests := []struct {
		name       string
		transforms []model.PathTransform
		path       string
		want       string
	}{
		{
			name:       "no transforms",
			transforms: nil,
			path:       "/videos/clip.mp4",
			want:       "/videos/clip.mp4",
		},
		{
			name: "remove prefix and prepend",
			transforms: []model.PathTransform{
				{Segment: "videos", RemovePrefix: "/videos", Prefix: "/media"},
			},
			path: "/videos/clip.mp4",
			want: "/media/clip.mp4",
		},
		{
			name: "segment does not match, unchanged",
			transforms: []model.PathTransform{
				{Segment: "other", RemovePrefix: "/videos", Prefix: "/media"},
			},
			path: "/videos/clip.mp4",
			want: "/videos/clip.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyPathTransform(tt.transforms, tt.path)
			if got != tt.want {
				t.Errorf("applyPathTransform() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveCredentials_AWSS3(t *testing.T) {
	t.Setenv("TEST_ACCESS_KEY", "AKIAEXAMPLE")
	t.Setenv("TEST_SECRET_KEY", "secret")

	auth := &model.AuthConfig{
		Kind:         model.AuthAWSS3,
		AccessKeyVar: "TEST_ACCESS_KEY",
		SecretKeyVar: "TEST_SECRET_KEY",
		Region:       "us-east-1",
		Service:      "s3",
	}

	creds, header, err := ResolveCredentials(auth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds == nil {
		t.Fatal("expected non-nil credentials")
	}
	if header != nil {
		t.Error("expected nil header for AWS auth")
	}
}

func TestResolveCredentials_MissingCredentialsStrict(t *testing.T) {
	auth := &model.AuthConfig{
		Kind:         model.AuthAWSS3,
		AccessKeyVar: "MISSING_ACCESS_KEY_VAR",
		SecretKeyVar: "MISSING_SECRET_KEY_VAR",
		Security:     model.SecurityStrict,
	}

	_, _, err := ResolveCredentials(auth)
	if err == nil {
		t.Fatal("expected error under strict security")
	}
	e, ok := err.(*errkind.Error)
	if !ok || e.Kind != errkind.MissingCredentials {
		t.Fatalf("expected MissingCredentials, got %v", err)
	}
}

func TestResolveCredentials_MissingCredentialsPermissive(t *testing.T) {
	auth := &model.AuthConfig{
		Kind:         model.AuthAWSS3,
		AccessKeyVar: "MISSING_ACCESS_KEY_VAR",
		SecretKeyVar: "MISSING_SECRET_KEY_VAR",
		Security:     model.SecurityPermissive,
	}

	creds, _, err := ResolveCredentials(auth)
	if err != nil {
		t.Fatalf("unexpected error under permissive security: %v", err)
	}
	if creds != nil {
		t.Error("expected nil credentials when unsigned request proceeds")
	}
}

func TestResolveCredentials_Bearer(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "abc123")
	auth := &model.AuthConfig{Kind: model.AuthBearer, TokenVar: "TEST_BEARER_TOKEN"}

	_, header, err := ResolveCredentials(auth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header.Get("Authorization") != "Bearer abc123" {
		t.Errorf("Authorization header = %q", header.Get("Authorization"))
	}
}
