// Package origin implements the origin resolver (C4): iterating a
// pattern's ordered sources and preparing a source URL for each.
package origin

import (
	"sort"
	"strings"

	"github.com/edgevid/proxy/internal/domain/model"
)

// SourceResolution is one candidate fetch target, ready for C9 to attempt.
type SourceResolution struct {
	Origin       *model.Origin
	Source       model.Source
	ResolvedPath string
	SourceURL    string
}

// Candidates returns pattern's sources ordered ascending by priority
// (ties broken by original array index), each with its path transform
// applied, ready for sequential fetch attempts by the caller.
func Candidates(pattern *model.PathPattern, originPath string) []SourceResolution {
	if pattern.Origin == nil {
		return nil
	}
	sources := pattern.Origin.SourcesByPriority()
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority < sources[j].Priority
	})

	out := make([]SourceResolution, 0, len(sources))
	for _, s := range sources {
		resolvedPath := applyPathTransform(s.PathTransform, originPath)
		out = append(out, SourceResolution{
			Origin:       pattern.Origin,
			Source:       s,
			ResolvedPath: resolvedPath,
			SourceURL:    sourceURL(s, resolvedPath),
		})
	}
	return out
}

// applyPathTransform applies the first matching transform entry (at most
// one fires per resolution): for the leading path segment, if a matching
// entry exists, its RemovePrefix drops that segment and its Prefix is
// prepended.
func applyPathTransform(transforms []model.PathTransform, path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) == 0 {
		return path
	}
	leading := segments[0]

	for _, tr := range transforms {
		if tr.Segment != "" && tr.Segment != leading {
			continue
		}
		rest := path
		if tr.RemovePrefix != "" && strings.HasPrefix(rest, tr.RemovePrefix) {
			rest = strings.TrimPrefix(rest, tr.RemovePrefix)
		}
		return tr.Prefix + rest
	}
	return path
}

// sourceURL builds the fetch target for a source: the configured URL for
// remote/fallback sources joined with the resolved path, or the resolved
// path itself for object-store sources (the bucket binding supplies the
// host).
func sourceURL(s model.Source, resolvedPath string) string {
	switch s.Type {
	case model.SourceObjectStore:
		return resolvedPath
	default:
		base := strings.TrimSuffix(s.URL, "/")
		return base + "/" + strings.TrimPrefix(resolvedPath, "/")
	}
}

// VerifyBucketBinding reports whether an object-store source's configured
// bucket binding exists in bindings.
func VerifyBucketBinding(s model.Source, bindings map[string]bool) bool {
	if s.Type != model.SourceObjectStore {
		return true
	}
	return bindings[s.BucketBinding]
}
