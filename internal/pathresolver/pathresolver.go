// Package pathresolver implements the path resolver (C1): matching a
// request path against an ordered list of patterns and deriving the
// origin path and forwarded query parameters.
package pathresolver

import (
	"net/url"
	"strings"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

// Match is the result of a successful resolution.
type Match struct {
	Pattern    *model.PathPattern
	Captures   map[string]string
	OriginPath string
}

// transformParamNames are query parameters that belong to the transform
// language and are stripped from the forwarded URL (not forwarded to the
// origin). Kept in sync with the alias table in internal/transform.
var transformParamNames = map[string]bool{
	"derivative": true, "width": true, "height": true, "fit": true,
	"quality": true, "format": true, "compression": true, "time": true,
	"duration": true, "fps": true, "audio": true, "loop": true,
	"autoplay": true, "muted": true, "preload": true, "debug": true,
	"nocache": true, "bypass": true, "mode": true,
	"w": true, "h": true, "q": true, "fmt": true, "comp": true, "t": true, "dur": true,
}

// Resolve matches path against patterns in order, returning the first
// match. Returns an *errkind.Error of kind NoMatchingPattern if none
// admit the path.
func Resolve(rawPath string, rawQuery string, patterns []*model.PathPattern) (*Match, error) {
	for _, p := range patterns {
		loc := p.Matcher.FindStringSubmatchIndex(rawPath)
		if loc == nil {
			continue
		}
		captures := extractCaptures(p, rawPath, loc)
		originPath := derivedOriginPath(p, rawPath, captures)
		return &Match{
			Pattern:    p,
			Captures:   captures,
			OriginPath: originPath,
		}, nil
	}
	return nil, errkind.New(errkind.NoMatchingPattern, "no pattern matches path", "path", rawPath)
}

// extractCaptures keys named captures by CaptureGroups when present;
// otherwise capture 1 is reported as captures["1"] for non-trivial
// matches.
func extractCaptures(p *model.PathPattern, path string, loc []int) map[string]string {
	captures := make(map[string]string)
	names := p.Matcher.SubexpNames()
	hasNamed := false
	for i, n := range names {
		if i == 0 || n == "" {
			continue
		}
		if 2*i+1 >= len(loc) || loc[2*i] < 0 {
			continue
		}
		captures[n] = path[loc[2*i]:loc[2*i+1]]
		hasNamed = true
	}
	if hasNamed {
		return captures
	}
	if len(p.CaptureGroups) > 0 {
		for i, name := range p.CaptureGroups {
			idx := i + 1
			if 2*idx+1 >= len(loc) || loc[2*idx] < 0 {
				continue
			}
			captures[name] = path[loc[2*idx]:loc[2*idx+1]]
		}
		return captures
	}
	// Positional fallback: capture group 1, if present and non-trivial.
	if len(loc) >= 4 && loc[2] >= 0 {
		captures["1"] = path[loc[2]:loc[3]]
	}
	return captures
}

// derivedOriginPath applies the fixed substitution schema for well-known
// capture names (videoId, category+filename, positional 1); otherwise the
// full matched substring is used, per the resolution of the path-resolver
// Open Question in spec.md §9.
func derivedOriginPath(p *model.PathPattern, path string, captures map[string]string) string {
	if v, ok := captures["videoId"]; ok {
		return "/" + v
	}
	if cat, ok := captures["category"]; ok {
		if fn, ok2 := captures["filename"]; ok2 {
			return "/" + cat + "/" + fn
		}
	}
	if v, ok := captures["1"]; ok && len(captures) == 1 {
		return v
	}
	return fullMatch(p, path)
}

func fullMatch(p *model.PathPattern, path string) string {
	loc := p.Matcher.FindStringIndex(path)
	if loc == nil {
		return path
	}
	return path[loc[0]:loc[1]]
}

// ForwardQuery strips transform-language parameters from rawQuery,
// returning everything else unchanged for forwarding to the origin.
func ForwardQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	out := url.Values{}
	for k, vs := range values {
		if transformParamNames[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out.Encode()
}
