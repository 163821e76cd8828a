package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
	"github.com/edgevid/proxy/internal/infrastructure/metrics"
	"github.com/edgevid/proxy/internal/origin"
)

// durationBoundPattern extracts the upper bound from error bodies of the
// form "... between 1s and 30s ...", per step A's parse rule.
var durationBoundPattern = regexp.MustCompile(`between\s+\S+\s+and\s+([\d.]+)\s*(s|sec|seconds|m|min|minutes)?`)

// fileExtensionContentType repairs a generic octet-stream Content-Type
// from the request's file extension (step B.3).
var fileExtensionContentType = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".avi":  "video/x-msvideo",
}

// FallbackInput carries everything the fallback chain needs to attempt
// each step independently of how the original request arrived.
type FallbackInput struct {
	Method         string
	Path           string
	Header         http.Header
	Pattern        *model.PathPattern
	Options        model.TransformOptions
	OriginalError  *repository.UpstreamResponse
	Retry          func(ctx context.Context, opts model.TransformOptions) (*repository.UpstreamResponse, error)
	DirectFetch    func(ctx context.Context, method, url string, header http.Header) (*repository.UpstreamResponse, error)
	StorageFetch   func(ctx context.Context, candidates []origin.SourceResolution) (*repository.UpstreamResponse, string, error)
	DirectFallbackURL string
	EdgeCache      repository.EdgeCache
	PresignCache   repository.PresignCache
	Events         repository.FallbackEventRepository
}

// FallbackResult is the response produced by whichever step succeeded,
// plus the diagnostic headers §4.10 requires every step to set.
type FallbackResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// transformationLimits records duration-limit bounds extracted from error
// bodies, process-wide, so future requests can be pre-clamped (step A.3).
// Never reset; a fresh deploy starts empty.
var (
	transformationLimitsMu sync.Mutex
	transformationLimits   = map[string]string{}
)

// DurationLimitFor returns a previously observed duration-limit bound for
// path, if step A has ever extracted one, so the options normalizer can
// pre-clamp future requests instead of round-tripping through a failure.
func DurationLimitFor(path string) (string, bool) {
	transformationLimitsMu.Lock()
	defer transformationLimitsMu.Unlock()
	v, ok := transformationLimits[path]
	return v, ok
}

// Engine implements C10: step A (duration retry) through D (storage
// service), stopping at the first 2xx, annotating the response with the
// chain of diagnostic headers along the way.
type Engine struct {
	now func() int64
}

// NewEngine creates a fallback Engine.
func NewEngine() *Engine {
	return &Engine{now: func() int64 { return time.Now().Unix() }}
}

// Run executes steps A-D against in, returning the first 2xx response or
// an all-steps-failed 500.
func (e *Engine) Run(ctx context.Context, in FallbackInput) *FallbackResult {
	start := e.now()
	header := http.Header{}
	header.Set("X-Fallback-Applied", "true")
	header.Set("X-Original-Error-Status", strconv.Itoa(in.OriginalError.Status))
	header.Set("X-Fallback-Reason", truncate(string(in.OriginalError.Body), 100))
	header.Set("Cache-Control", "no-store")
	header.Set("Cache-Tag", fmt.Sprintf("video-resizer,fallback:true,source:%s", in.Path))
	annotateParsedError(header, in.OriginalError.Body)

	if result := e.stepA(ctx, in, header); result != nil {
		e.record(ctx, in, "duration_retry", result.Status, start)
		return result
	}
	if result := e.stepB(ctx, in, header); result != nil {
		e.record(ctx, in, "pattern_origin", result.Status, start)
		return result
	}
	if result := e.stepC(ctx, in, header); result != nil {
		e.record(ctx, in, "direct_origin", result.Status, start)
		return result
	}
	if result := e.stepD(ctx, in, header); result != nil {
		e.record(ctx, in, "storage_service", result.Status, start)
		return result
	}

	e.record(ctx, in, "exhausted", http.StatusInternalServerError, start)
	header.Set("Content-Type", "text/plain")
	return &FallbackResult{Status: http.StatusInternalServerError, Header: header, Body: []byte("fallback exhausted")}
}

// stepA retries the transformation once with an adjusted duration if the
// error body looks like a duration-limit rejection.
func (e *Engine) stepA(ctx context.Context, in FallbackInput, header http.Header) *FallbackResult {
	if in.Options.Duration == "" || in.Retry == nil {
		return nil
	}
	body := string(in.OriginalError.Body)
	adjusted, bound := adjustDuration(in.Options.Duration, body)
	if adjusted == in.Options.Duration {
		return nil
	}

	transformationLimitsMu.Lock()
	transformationLimits[in.Path] = bound
	transformationLimitsMu.Unlock()

	opts := in.Options.Clone()
	opts.Duration = adjusted
	resp, err := in.Retry(ctx, opts)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepDurationRetry, metrics.FallbackOutcomeFailure).Inc()
		return nil
	}

	h := cloneHeader(resp.Header)
	mergeHeader(h, header)
	h.Set("X-Duration-Adjusted", "true")
	h.Set("X-Original-Duration", in.Options.Duration)
	h.Set("X-Adjusted-Duration", adjusted)
	h.Set("X-Retry-Count", "1")
	if bound != "" {
		h.Set("X-Duration-Limit-Applied", "true")
	}
	metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepDurationRetry, metrics.FallbackOutcomeSuccess).Inc()
	return &FallbackResult{Status: resp.Status, Header: h, Body: resp.Body}
}

// stepB attempts a direct, authenticated fetch against the matched
// pattern's declared origin.
func (e *Engine) stepB(ctx context.Context, in FallbackInput, header http.Header) *FallbackResult {
	if in.Pattern == nil || in.Pattern.Origin == nil || in.Pattern.OriginURL == "" || in.DirectFetch == nil {
		return nil
	}

	target := joinURL(in.Pattern.OriginURL, in.Path)
	parsed, err := url.Parse(target)
	if err != nil {
		return nil
	}

	fetchHeader := http.Header{}
	authType := "none"
	if in.Pattern.Auth != nil {
		authType = string(in.Pattern.Auth.Kind)
		switch in.Pattern.Auth.Kind {
		case model.AuthBearer, model.AuthHeader:
			if _, h, err := origin.ResolveCredentials(in.Pattern.Auth); err == nil && h != nil {
				for k, vs := range h {
					for _, v := range vs {
						fetchHeader.Add(k, v)
					}
				}
			}
		case model.AuthAWSS3PresignedURL:
			if in.PresignCache != nil {
				if entry, err := in.PresignCache.Get(ctx, target); err == nil {
					target = entry.FullURL
				}
			}
		}
	}

	resp, err := in.DirectFetch(ctx, in.Method, target, fetchHeader)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepPatternOrigin, metrics.FallbackOutcomeFailure).Inc()
		return nil
	}

	h := cloneHeader(resp.Header)
	mergeHeader(h, header)
	if h.Get("Content-Type") == "application/octet-stream" || h.Get("Content-Type") == "" {
		if ct, ok := fileExtensionContentType[strings.ToLower(pathExt(in.Path))]; ok {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", "video/mp4")
		}
	}
	h.Set("X-Pattern-Fallback-Applied", "true")
	h.Set("X-Pattern-Name", in.Pattern.Name)
	h.Set("X-Pattern-Auth-Type", authType)
	h.Set("X-Pattern-Origin-Domain", parsed.Hostname())
	metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepPatternOrigin, metrics.FallbackOutcomeSuccess).Inc()
	return &FallbackResult{Status: resp.Status, Header: h, Body: resp.Body}
}

// stepC fetches the configured direct fallback URL when no pattern auth
// was available to attempt step B.
func (e *Engine) stepC(ctx context.Context, in FallbackInput, header http.Header) *FallbackResult {
	if in.Pattern != nil && in.Pattern.Auth != nil {
		return nil
	}
	if in.DirectFallbackURL == "" || in.DirectFetch == nil {
		return nil
	}

	resp, err := in.DirectFetch(ctx, in.Method, in.DirectFallbackURL, in.Header)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepDirectOrigin, metrics.FallbackOutcomeFailure).Inc()
		return nil
	}

	h := cloneHeader(resp.Header)
	mergeHeader(h, header)
	h.Set("X-Direct-Source-Used", "true")
	metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepDirectOrigin, metrics.FallbackOutcomeSuccess).Inc()
	return &FallbackResult{Status: resp.Status, Header: h, Body: resp.Body}
}

// stepD invokes the origin resolver's priority-ordered sources directly.
func (e *Engine) stepD(ctx context.Context, in FallbackInput, header http.Header) *FallbackResult {
	if in.Pattern == nil || in.StorageFetch == nil {
		return nil
	}
	candidates := origin.Candidates(in.Pattern, in.Path)
	if len(candidates) == 0 {
		return nil
	}

	resp, sourceName, err := in.StorageFetch(ctx, candidates)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepStorageService, metrics.FallbackOutcomeFailure).Inc()
		return nil
	}

	h := cloneHeader(resp.Header)
	mergeHeader(h, header)
	h.Set("X-Storage-Source", sourceName)
	metrics.FallbackStepTotal.WithLabelValues(metrics.FallbackStepStorageService, metrics.FallbackOutcomeSuccess).Inc()
	return &FallbackResult{Status: resp.Status, Header: h, Body: resp.Body}
}

func (e *Engine) record(ctx context.Context, in FallbackInput, step string, status int, start int64) {
	if in.Events == nil {
		return
	}
	kind := classifyOriginalError(in.OriginalError.Status)
	ev := repository.FallbackEvent{
		Path:      in.Path,
		Step:      step,
		ErrorKind: kind,
		Status:    status,
		ElapsedMS: (e.now() - start) * 1000,
		CreatedAt: e.now(),
	}
	_ = in.Events.Record(ctx, ev)
}

// classifyOriginalError maps the original upstream status to the kind
// that drove entry into the fallback chain, for the audit record.
func classifyOriginalError(status int) string {
	switch {
	case status >= 500:
		return string(errkind.UpstreamServerError)
	case status >= 400:
		return string(errkind.UpstreamClientError)
	default:
		return string(errkind.Unknown)
	}
}

func adjustDuration(current string, errorBody string) (adjusted string, bound string) {
	m := durationBoundPattern.FindStringSubmatch(errorBody)
	if len(m) >= 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			unit := "s"
			if len(m) >= 3 && m[2] != "" {
				unit = m[2]
			}
			return fmt.Sprintf("%d%s", int(v), unit), fmt.Sprintf("%d%s", int(v), unit)
		}
	}
	return stepDownDuration(current), ""
}

// stepDownDuration applies the built-in stepwise reduction when no
// explicit bound could be parsed from the error body: half the numeric
// magnitude, floored at 1.
func stepDownDuration(current string) string {
	numPart, unit := splitDurationUnit(current)
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 1 {
		return current
	}
	return strconv.Itoa(n/2) + unit
}

func splitDurationUnit(d string) (number string, unit string) {
	i := 0
	for i < len(d) && (d[i] >= '0' && d[i] <= '9' || d[i] == '.') {
		i++
	}
	return d[:i], d[i:]
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func pathExt(p string) string {
	i := strings.LastIndex(p, ".")
	if i < 0 {
		return ""
	}
	return p[i:]
}

// parsedErrorBody is the subset of a JSON upstream error body the
// fallback engine promotes into diagnostic headers (§4.10 response
// assembly: X-Error-Type / X-Invalid-Parameter when present).
type parsedErrorBody struct {
	ErrorType       string `json:"errorType"`
	InvalidParameter string `json:"invalidParameter"`
}

var fileSizePattern = regexp.MustCompile(`(?i)file size|too large|exceeds.*limit`)

// annotateParsedError sets the error-type/invalid-parameter and
// file-size-limit headers when the upstream error body carries them.
func annotateParsedError(header http.Header, body []byte) {
	var parsed parsedErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.ErrorType != "" {
			header.Set("X-Error-Type", parsed.ErrorType)
		}
		if parsed.InvalidParameter != "" {
			header.Set("X-Invalid-Parameter", parsed.InvalidParameter)
		}
	}
	if fileSizePattern.Match(body) {
		header.Set("X-File-Size-Error", "true")
		header.Set("X-Video-Too-Large", "true")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func cloneHeader(h http.Header) http.Header {
	out := http.Header{}
	for k, vs := range h {
		for _, v := range vs {
			out.Add(k, v)
		}
	}
	return out
}

func mergeHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Set(k, v)
		}
	}
}
