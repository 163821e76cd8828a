// Package configstore is the in-memory configuration cache described in
// spec.md §1.3(a): it parses the PathPattern/Origin/Source/AuthConfig
// document (origins.json-equivalent) into the compiled model types C1/C4
// consume, and holds the result behind an atomic pointer so a reload
// swaps the whole snapshot at once — requests that already observed the
// old snapshot finish against it (§5 "configuration swap is atomic at a
// pointer/handle granularity").
//
// Schema validation of the document is explicitly out of scope (spec.md
// §1): a malformed document fails New/Reload with errkind.InvalidConfig,
// never a per-request error.
package configstore

import (
	"encoding/json"
	"os"
	"regexp"
	"sync/atomic"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

// Snapshot is one atomically-swapped generation of resolved configuration.
type Snapshot struct {
	Patterns    []*model.PathPattern
	Derivatives map[string]model.Derivative
	DefaultTTL  model.CacheTTLPolicy
}

// Store holds the current Snapshot behind an atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New loads path (or the embedded default when path is empty) and
// returns a Store primed with the result.
func New(path string) (*Store, error) {
	snap, err := load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{}
	s.current.Store(snap)
	return s, nil
}

// Snapshot returns the current configuration generation. Callers should
// acquire one snapshot per request rather than calling this repeatedly,
// so a concurrent Reload cannot hand them a mix of old and new patterns.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload parses path (or the embedded default) and swaps it in
// atomically. A parse failure leaves the previous snapshot in place.
func (s *Store) Reload(path string) error {
	snap, err := load(path)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

func load(path string) (*Snapshot, error) {
	data := []byte(defaultOriginsJSON)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidConfig, err, "path", path)
		}
		data = raw
	}
	return parse(data)
}

// --- wire document shapes, mirroring spec.md §3's entities with plain
// strings in place of compiled regexes/typed enums ---

type doc struct {
	DefaultTTL  ttlDoc                    `json:"defaultTTL"`
	Derivatives map[string]derivativeDoc  `json:"derivatives"`
	Patterns    []patternDoc              `json:"patterns"`
}

type ttlDoc struct {
	OK          int `json:"ok"`
	Redirects   int `json:"redirects"`
	ClientError int `json:"clientError"`
	ServerError int `json:"serverError"`
}

func (t ttlDoc) toModel() model.CacheTTLPolicy {
	return model.CacheTTLPolicy{OK: t.OK, Redirects: t.Redirects, ClientError: t.ClientError, ServerError: t.ServerError}
}

type derivativeDoc struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Quality     string `json:"quality"`
	Compression string `json:"compression"`
	Duration    string `json:"duration"`
}

type authDoc struct {
	Kind            string            `json:"kind"`
	AccessKeyVar    string            `json:"accessKeyVar"`
	SecretKeyVar    string            `json:"secretKeyVar"`
	SessionTokenVar string            `json:"sessionTokenVar"`
	Region          string            `json:"region"`
	Service         string            `json:"service"`
	TokenVar        string            `json:"tokenVar"`
	Headers         map[string]string `json:"headers"`
	Security        string            `json:"security"`
}

func (a *authDoc) toModel() *model.AuthConfig {
	if a == nil {
		return nil
	}
	security := model.SecurityPermissive
	if a.Security == string(model.SecurityStrict) {
		security = model.SecurityStrict
	}
	return &model.AuthConfig{
		Kind:            model.AuthKind(a.Kind),
		AccessKeyVar:    a.AccessKeyVar,
		SecretKeyVar:    a.SecretKeyVar,
		SessionTokenVar: a.SessionTokenVar,
		Region:          a.Region,
		Service:         a.Service,
		TokenVar:        a.TokenVar,
		Headers:         a.Headers,
		Security:        security,
	}
}

type pathTransformDoc struct {
	Segment      string `json:"segment"`
	RemovePrefix string `json:"removePrefix"`
	Prefix       string `json:"prefix"`
}

type sourceDoc struct {
	Type          string              `json:"type"`
	Priority      int                 `json:"priority"`
	BucketBinding string              `json:"bucketBinding"`
	URL           string              `json:"url"`
	Auth          *authDoc            `json:"auth"`
	PathTransform []pathTransformDoc  `json:"pathTransform"`
}

type originDoc struct {
	Name           string      `json:"name"`
	Matcher        string      `json:"matcher"`
	Sources        []sourceDoc `json:"sources"`
	TTL            ttlDoc      `json:"ttl"`
	UseTTLByStatus bool        `json:"useTtlByStatus"`
}

type patternDoc struct {
	Name                    string            `json:"name"`
	Matcher                 string            `json:"matcher"`
	OriginURL               string            `json:"originUrl"`
	CaptureGroups           []string          `json:"captureGroups"`
	CacheTTL                *ttlDoc           `json:"cacheTtl"`
	Quality                 string            `json:"quality"`
	TransformationOverrides map[string]string `json:"transformationOverrides"`
	Auth                    *authDoc          `json:"auth"`
	Origin                  *originDoc        `json:"origin"`
}

func parse(data []byte) (*Snapshot, error) {
	var d doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfig, err)
	}

	derivatives := make(map[string]model.Derivative, len(d.Derivatives))
	for name, dd := range d.Derivatives {
		derivatives[name] = model.Derivative{
			Name: name, Width: dd.Width, Height: dd.Height,
			Quality: dd.Quality, Compression: dd.Compression, Duration: dd.Duration,
		}
	}

	patterns := make([]*model.PathPattern, 0, len(d.Patterns))
	for _, pd := range d.Patterns {
		re, err := regexp.Compile(pd.Matcher)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidConfig, err, "pattern", pd.Name)
		}

		var ttl *model.CacheTTLPolicy
		if pd.CacheTTL != nil {
			v := pd.CacheTTL.toModel()
			ttl = &v
		}

		var origin *model.Origin
		if pd.Origin != nil {
			originRe, err := regexp.Compile(pd.Origin.Matcher)
			if err != nil {
				return nil, errkind.Wrap(errkind.InvalidConfig, err, "origin", pd.Origin.Name)
			}
			sources := make([]model.Source, 0, len(pd.Origin.Sources))
			for _, sd := range pd.Origin.Sources {
				transforms := make([]model.PathTransform, 0, len(sd.PathTransform))
				for _, td := range sd.PathTransform {
					transforms = append(transforms, model.PathTransform{
						Segment: td.Segment, RemovePrefix: td.RemovePrefix, Prefix: td.Prefix,
					})
				}
				sources = append(sources, model.Source{
					Type: model.SourceType(sd.Type), Priority: sd.Priority,
					BucketBinding: sd.BucketBinding, URL: sd.URL,
					Auth: sd.Auth.toModel(), PathTransform: transforms,
				})
			}
			origin = &model.Origin{
				Name: pd.Origin.Name, Matcher: originRe, Sources: sources,
				TTL: pd.Origin.TTL.toModel(), UseTTLByStatus: pd.Origin.UseTTLByStatus,
			}
		}

		patterns = append(patterns, &model.PathPattern{
			Name: pd.Name, Matcher: re, OriginURL: pd.OriginURL,
			CaptureGroups: pd.CaptureGroups, CacheTTL: ttl, Quality: pd.Quality,
			TransformationOverrides: pd.TransformationOverrides,
			Auth:                    pd.Auth.toModel(),
			Origin:                  origin,
		})
	}

	return &Snapshot{
		Patterns:    patterns,
		Derivatives: derivatives,
		DefaultTTL:  d.DefaultTTL.toModel(),
	}, nil
}

// defaultOriginsJSON is the embedded fallback document used when
// ORIGINS_CONFIG_PATH is unset, documenting the expected shape in place
// of a separate schema doc.
const defaultOriginsJSON = `{
  "defaultTTL": {"ok": 86400, "redirects": 300, "clientError": 60, "serverError": 10},
  "derivatives": {
    "thumbnail": {"width": 320, "height": 180, "quality": "70"},
    "mobile":    {"width": 640, "height": 360, "quality": "60"},
    "medium":    {"width": 854, "height": 480, "quality": "80"},
    "hd":        {"width": 1280, "height": 720, "quality": "90"}
  },
  "patterns": [
    {
      "name": "videos",
      "matcher": "^/videos/(?P<videoId>[A-Za-z0-9_-]+)\\.(mp4|webm|mov)$",
      "originUrl": "https://videos.example.com",
      "cacheTtl": {"ok": 86400, "clientError": 60, "serverError": 5},
      "auth": {
        "kind": "aws-s3-presigned-url",
        "accessKeyVar": "VIDEOS_AWS_ACCESS_KEY_ID",
        "secretKeyVar": "VIDEOS_AWS_SECRET_ACCESS_KEY",
        "region": "us-east-1",
        "service": "s3",
        "security": "permissive"
      },
      "origin": {
        "name": "videos-origin",
        "matcher": "^/videos/",
        "useTtlByStatus": true,
        "ttl": {"ok": 86400, "clientError": 60, "serverError": 5},
        "sources": [
          {"type": "objectStore", "priority": 0, "bucketBinding": "videos"},
          {"type": "remote", "priority": 1, "url": "https://videos.example.com"},
          {"type": "fallback", "priority": 2, "url": "https://backup.example.com"}
        ]
      }
    },
    {
      "name": "assets",
      "matcher": "^/assets/(?P<category>[^/]+)/(?P<filename>[^/]+)$",
      "originUrl": "https://assets.example.com",
      "cacheTtl": {"ok": 3600, "clientError": 30, "serverError": 5},
      "origin": {
        "name": "assets-origin",
        "matcher": "^/assets/",
        "ttl": {"ok": 3600},
        "sources": [
          {"type": "remote", "priority": 0, "url": "https://assets.example.com"}
        ]
      }
    }
  ]
}`
