package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/usecase"
)

// TransformHandler is the C11 Response Builder: it drives a
// usecase.TransformService and shapes its Result into the wire response
// (Cache-Control, Cache-Tag, diagnostic headers, body).
type TransformHandler struct {
	svc *usecase.TransformService
}

// NewTransformHandler creates a TransformHandler backed by svc.
func NewTransformHandler(svc *usecase.TransformService) *TransformHandler {
	return &TransformHandler{svc: svc}
}

// ServeHTTP handles every inbound transform request (the chi catch-all
// route owns the full path, including its query string).
func (h *TransformHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Handle(r.Context(), usecase.Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if isDebugRequest(r.URL.RawQuery) {
		writeDebugResponse(w, result)
		return
	}

	h.writeResult(w, result)
}

func (h *TransformHandler) writeResult(w http.ResponseWriter, result *usecase.Result) {
	header := w.Header()
	for k, vs := range result.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	if result.Unsatisfiable {
		w.WriteHeader(result.Status)
		return
	}

	// Cache-Control and Cache-Tag are net-new C11 responsibilities; the
	// fallback engine already sets its own no-store Cache-Control, so only
	// fill these in for the direct (non-fallback) path.
	if result.Source != "fallback" {
		if header.Get("Cache-Control") == "" {
			header.Set("Cache-Control", buildCacheControl(result.Status, result.TTLPolicy))
		}
		if header.Get("Cache-Tag") == "" {
			header.Set("Cache-Tag", buildCacheTag(result))
		}
	}

	if result.Status == http.StatusOK || result.Status == http.StatusPartialContent {
		if header.Get("Accept-Ranges") == "" {
			header.Set("Accept-Ranges", "bytes")
		}
		ensureValidators(header, result.Body)
	}

	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// handleServiceError maps an errkind.Error to its HTTP status class,
// modeled on the teacher's handleServiceError switch but driven by the
// error taxonomy instead of per-domain sentinels.
func (h *TransformHandler) handleServiceError(w http.ResponseWriter, err error) {
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		Error(w, kerr.Kind.StatusClass(), string(kerr.Kind), kerr.Error())
		return
	}
	Error(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// ensureValidators synthesizes ETag/Last-Modified when the answering tier
// left them unset (e.g. a fresh upstream fetch not yet normalized by an
// edge-cache write).
func ensureValidators(header http.Header, body []byte) {
	if header.Get("ETag") == "" {
		header.Set("ETag", fmt.Sprintf(`"%x"`, len(body)))
	}
	if header.Get("Last-Modified") == "" {
		header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	}
}

// buildCacheControl derives Cache-Control from the status class per
// §4.11: max-age from the TTL policy, public for 2xx, no-store when the
// policy marks the status uncacheable.
func buildCacheControl(status int, policy model.CacheTTLPolicy) string {
	ttl, cacheable := policy.TTLForStatus(status)
	if !cacheable {
		return "no-store"
	}
	if status >= 200 && status < 300 {
		return fmt.Sprintf("public, max-age=%d", ttl)
	}
	return fmt.Sprintf("max-age=%d", ttl)
}

const maxCacheTagLength = 1024

// buildCacheTag generates the Cache-Tag header from the resolved path,
// options, and content type per §4.11.
func buildCacheTag(result *usecase.Result) string {
	tags := []string{"video-resizer"}

	tags = append(tags, tag("path", slugifyPath(result.Path)))
	if segs := pathSegments(result.Path); len(segs) > 1 {
		for _, seg := range segs {
			tags = append(tags, tag("segment", slugify(seg)))
		}
	}

	opts := result.Options
	if opts.Derivative != "" {
		tags = append(tags, tag("derivative", opts.Derivative))
	}
	if opts.Mode != "" {
		tags = append(tags, tag("mode", string(opts.Mode)))
	}
	switch opts.Mode {
	case model.ModeFrame:
		if opts.Time != "" {
			tags = append(tags, tag("time", opts.Time))
		}
	case model.ModeSpritesheet:
		if opts.FPS != nil {
			tags = append(tags, tag("fps", strconv.Itoa(*opts.FPS)))
		}
	}

	if opts.Width != nil {
		tags = append(tags, tag("width", strconv.Itoa(*opts.Width)))
	}
	if opts.Height != nil {
		tags = append(tags, tag("height", strconv.Itoa(*opts.Height)))
	}
	if opts.Width != nil && opts.Height != nil {
		tags = append(tags, tag("dimensions", fmt.Sprintf("%dx%d", *opts.Width, *opts.Height)))
	}
	if opts.Quality != "" {
		tags = append(tags, tag("quality", opts.Quality))
	}
	if opts.Compression != "" {
		tags = append(tags, tag("compression", opts.Compression))
	}

	if ct := result.Header.Get("Content-Type"); ct != "" {
		typ, sub, ok := strings.Cut(ct, "/")
		if ok {
			tags = append(tags, tag("contenttype", slugify(typ)+"-"+slugify(sub)))
		}
	}

	tags = append(tags, imQueryTags(result.RawQuery)...)

	return strings.Join(truncated(tags), ",")
}

// imQueryTags surfaces Akamai IMQuery-style width/height hints (imwidth,
// imheight) into the Cache-Tag even though they never reach the upstream
// transform URL (they are a caching signal only, per §4.11).
func imQueryTags(rawQuery string) []string {
	var tags []string
	for _, kv := range strings.Split(rawQuery, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		switch k {
		case "imwidth":
			tags = append(tags, tag("imwidth", v))
		case "imheight":
			tags = append(tags, tag("imheight", v))
		}
	}
	return tags
}

func tag(name, value string) string {
	return "video-" + name + "-" + slugify(value)
}

func truncated(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		if len(t) > maxCacheTagLength {
			t = t[:maxCacheTagLength]
		}
		out[i] = t
	}
	return out
}

func pathSegments(path string) []string {
	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// slugifyPath turns "/videos/clip.mp4" into "videos-clip-mp4".
func slugifyPath(path string) string {
	return strings.Join(slugifySegments(pathSegments(path)), "-")
}

func slugifySegments(segs []string) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = slugify(s)
	}
	return out
}

// slugify lowercases a string and replaces any non-alphanumeric run with
// a single dash, matching the Cache-Tag component style from §8's worked
// example ("video-path-videos-clip-mp4").
func slugify(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func isDebugRequest(rawQuery string) bool {
	values := strings.Split(rawQuery, "&")
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == "debug" && (v == "view" || v == "true") {
			return true
		}
	}
	return false
}
