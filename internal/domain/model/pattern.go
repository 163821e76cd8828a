package model

import "regexp"

// SourceType enumerates the kinds of origin source a Source can describe.
type SourceType string

const (
	SourceObjectStore SourceType = "objectStore"
	SourceRemote      SourceType = "remote"
	SourceFallback    SourceType = "fallback"
)

// AuthKind enumerates the supported AuthConfig variants.
type AuthKind string

const (
	AuthAWSS3              AuthKind = "aws-s3"
	AuthAWSS3PresignedURL  AuthKind = "aws-s3-presigned-url"
	AuthBearer             AuthKind = "bearer"
	AuthHeader             AuthKind = "header"
)

// AuthConfig carries the credential indirection for a Source or PathPattern.
// Only the fields relevant to Kind are populated; callers should switch on
// Kind before reading Region/Service/TokenVar/Headers.
type AuthConfig struct {
	Kind            AuthKind
	AccessKeyVar    string
	SecretKeyVar    string
	SessionTokenVar string
	Region          string
	Service         string
	TokenVar        string
	Headers         map[string]string
	Security        SecurityMode
}

// SecurityMode controls behavior when credential env vars are absent.
type SecurityMode string

const (
	SecurityStrict     SecurityMode = "strict"
	SecurityPermissive SecurityMode = "permissive"
)

// PathTransform rewrites a leading path segment before a fetch is attempted.
type PathTransform struct {
	Segment      string
	RemovePrefix string
	Prefix       string
}

// Source is one ordered fetch candidate within an Origin.
type Source struct {
	Type          SourceType
	Priority      int
	BucketBinding string
	URL           string
	Auth          *AuthConfig
	PathTransform []PathTransform
}

// Origin groups ordered Sources reachable once a PathPattern has matched.
type Origin struct {
	Name          string
	Matcher       *regexp.Regexp
	Sources       []Source
	TTL           CacheTTLPolicy
	UseTTLByStatus bool
}

// PathPattern is one entry of the ordered pattern list matched against
// incoming request paths. Immutable once loaded; a configuration reload
// replaces the whole slice atomically, never mutates an entry in place.
type PathPattern struct {
	Name                    string
	Matcher                 *regexp.Regexp
	OriginURL               string
	CaptureGroups           []string
	CacheTTL                *CacheTTLPolicy
	Quality                 string
	TransformationOverrides map[string]string
	Auth                    *AuthConfig
	Origin                  *Origin
}

// SourcesByPriority returns a copy of Sources in configuration order; it
// does not sort. The caller orders the copy: origin.Candidates applies a
// stable sort ascending by Priority on every call, so ties keep their
// original array order.
func (o *Origin) SourcesByPriority() []Source {
	out := make([]Source, len(o.Sources))
	copy(out, o.Sources)
	return out
}
