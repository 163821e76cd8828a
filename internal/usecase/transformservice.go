package usecase

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edgevid/proxy/internal/configstore"
	"github.com/edgevid/proxy/internal/domain/model"
	"github.com/edgevid/proxy/internal/domain/repository"
	"github.com/edgevid/proxy/internal/infrastructure/metrics"
	"github.com/edgevid/proxy/internal/infrastructure/rediscache"
	"github.com/edgevid/proxy/internal/origin"
	"github.com/edgevid/proxy/internal/pathresolver"
	"github.com/edgevid/proxy/internal/transform"
)

// Request is one inbound proxy request, already split into path/query/header
// by the HTTP layer.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
}

// Result is what TransformService hands back to the HTTP layer (C11): the
// tier that answered, enough context to build Cache-Control/Cache-Tag, and
// the finished body/status/header for the cases where no further assembly
// is needed (416, fallback responses).
type Result struct {
	Status        int
	Header        http.Header
	Body          []byte
	Source        string
	Pattern       *model.PathPattern
	Options       model.TransformOptions
	Path          string
	OriginPath    string
	RawQuery      string
	TTLPolicy     model.CacheTTLPolicy
	Warnings      []string
	RangeApplied  bool
	Unsatisfiable bool
}

const sourceFallback = "fallback"

// configSnapshotter is the subset of *configstore.Store TransformService
// needs, narrowed to an interface so tests can supply a fixed snapshot
// without going through configstore's JSON document loader.
type configSnapshotter interface {
	Snapshot() *configstore.Snapshot
}

// TransformService wires the path resolver (C1), options/derivative
// expander (C2), transform URL builder (C3), origin resolver (C4), cache
// controller (C9), and fallback engine (C10) into the single read path a
// request takes end to end.
type TransformService struct {
	config   configSnapshotter
	versions repository.VersionStore
	variants repository.VariantStore
	cache    *CacheController
	fallback *Engine
	upstream repository.Transformer
	presign  repository.PresignCache
	edge     repository.EdgeCache
	events   repository.FallbackEventRepository

	scheme   string
	host     string
	basePath string
}

// NewTransformService wires the collaborators. events/presign/edge may be
// nil; the fallback engine and cache controller already treat a nil
// collaborator as "skip this step" rather than panicking.
func NewTransformService(
	config configSnapshotter,
	versions repository.VersionStore,
	variants repository.VariantStore,
	cache *CacheController,
	fallback *Engine,
	upstream repository.Transformer,
	presign repository.PresignCache,
	edge repository.EdgeCache,
	events repository.FallbackEventRepository,
	scheme, host, basePath string,
) *TransformService {
	return &TransformService{
		config: config, versions: versions, variants: variants,
		cache: cache, fallback: fallback, upstream: upstream,
		presign: presign, edge: edge, events: events,
		scheme: scheme, host: host, basePath: basePath,
	}
}

// Handle resolves req end to end: C1 match, C2 normalize, C8 version read,
// a Range fast path against the variant store when applicable, otherwise
// C9's tiered lookup, falling into C10 when the origin responds non-2xx.
func (s *TransformService) Handle(ctx context.Context, req Request) (*Result, error) {
	snap := s.config.Snapshot()

	match, err := pathresolver.Resolve(req.Path, req.RawQuery, snap.Patterns)
	if err != nil {
		return nil, err
	}

	rawParams := parseRawParams(req.RawQuery)
	normResult, err := transform.Normalize(rawParams, snap.Derivatives)
	if err != nil {
		return nil, err
	}
	opts := normResult.Options

	if bound, ok := DurationLimitFor(match.OriginPath); ok && opts.Duration != "" {
		opts.Duration = clampDuration(opts.Duration, bound)
	}

	ttlPolicy := snap.DefaultTTL
	switch {
	case match.Pattern.CacheTTL != nil:
		ttlPolicy = *match.Pattern.CacheTTL
	case match.Pattern.Origin != nil && match.Pattern.Origin.UseTTLByStatus:
		ttlPolicy = match.Pattern.Origin.TTL
	}

	versionKey := model.VariantKey{Path: match.OriginPath, Options: opts}.String()
	version, err := s.versions.Read(ctx, versionKey)
	if err != nil {
		version = model.DefaultVersion
	}
	key := model.VariantKey{Path: match.OriginPath, Options: opts, Version: version}

	base := &Result{
		Pattern: match.Pattern, Options: opts, Path: req.Path, OriginPath: match.OriginPath,
		RawQuery: req.RawQuery, TTLPolicy: ttlPolicy, Warnings: normResult.Warnings,
	}

	if req.Method == http.MethodGet {
		if rangeHeader := req.Header.Get("Range"); rangeHeader != "" {
			if result, handled := s.handleVariantRange(ctx, key, rangeHeader, base); handled {
				return result, nil
			}
		}
	}

	lookupResult, err := s.cache.Lookup(ctx, LookupInput{
		Key: key, Method: req.Method, EdgeCacheKey: edgeCacheKey(req),
		ContentType: guessContentType(opts), Tags: storageTags(match, opts),
		TTLPolicy: ttlPolicy,
		Fetch: func(ctx context.Context) (*repository.UpstreamResponse, error) {
			return s.fetchUpstream(ctx, req, match, opts, version)
		},
	})
	if err != nil {
		return nil, err
	}

	if lookupResult.Status < 200 || lookupResult.Status >= 300 {
		fr := s.runFallback(ctx, req, match, opts, version, lookupResult)
		base.Status, base.Header, base.Body, base.Source = fr.Status, fr.Header, fr.Body, sourceFallback
		return base, nil
	}

	header := cloneHeader(lookupResult.Header)
	status := lookupResult.Status
	body := lookupResult.Body

	if req.Method == http.MethodGet && status == http.StatusOK {
		if rangeHeader := req.Header.Get("Range"); rangeHeader != "" {
			rr := rediscache.ParseRange(rangeHeader, int64(len(body)))
			if !rr.Satisfiable {
				base.Status = http.StatusRequestedRangeNotSatisfiable
				base.Header = unsatisfiableRangeHeader(int64(len(body)))
				base.Unsatisfiable = true
				return base, nil
			}
			body = rr.Slice(body)
			header.Set("Content-Range", rr.ContentRangeHeader())
			header.Set("Content-Length", strconv.Itoa(len(body)))
			header.Set("Accept-Ranges", "bytes")
			header.Set("X-Range-Handled-By", lookupResult.Source)
			status = http.StatusPartialContent
			base.RangeApplied = true
		}
	}

	base.Status, base.Header, base.Body, base.Source = status, header, body, lookupResult.Source
	return base, nil
}

// handleVariantRange attempts the Range fast path (§4.7 read protocol step
// 4): a Stat (metadata only) followed by GetRange, never assembling the
// full variant body. Returns handled=false when the variant store misses
// or its metadata is unreadable, so the caller falls through to the
// normal C9 lookup.
func (s *TransformService) handleVariantRange(ctx context.Context, key model.VariantKey, rangeHeader string, base *Result) (*Result, bool) {
	variant, err := s.variants.Stat(ctx, key)
	if err != nil {
		return nil, false
	}

	rr := rediscache.ParseRange(rangeHeader, variant.ContentLength)
	if !rr.Satisfiable {
		metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierVariant, metrics.CacheStatusHit).Inc()
		base.Status = http.StatusRequestedRangeNotSatisfiable
		base.Header = unsatisfiableRangeHeader(variant.ContentLength)
		base.Unsatisfiable = true
		base.Source = sourceVariant
		return base, true
	}

	body, _, err := s.variants.GetRange(ctx, key, rr.Start, rr.End)
	if err != nil {
		return nil, false
	}

	metrics.CacheTierOperationsTotal.WithLabelValues(metrics.TierVariant, metrics.CacheStatusHit).Inc()
	h := http.Header{}
	h.Set("Content-Type", variant.ContentType)
	h.Set("Content-Range", rr.ContentRangeHeader())
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Range-Handled-By", sourceVariant)

	base.Status = http.StatusPartialContent
	base.Header = h
	base.Body = body
	base.Source = sourceVariant
	base.RangeApplied = true
	return base, true
}

func (s *TransformService) fetchUpstream(ctx context.Context, req Request, match *pathresolver.Match, opts model.TransformOptions, version int) (*repository.UpstreamResponse, error) {
	sourceURL := s.resolveSourceURL(match)
	if fq := pathresolver.ForwardQuery(req.RawQuery); fq != "" {
		sep := "?"
		if strings.Contains(sourceURL, "?") {
			sep = "&"
		}
		sourceURL += sep + fq
	}

	v := version
	target := transform.Build(s.scheme, s.host, s.basePath, opts, sourceURL, &v)

	start := time.Now()
	resp, err := s.upstream.Fetch(ctx, req.Method, target, buildForwardHeader(req.Header))
	status := 0
	if resp != nil {
		status = resp.Status
	}
	metrics.UpstreamTransformDuration.WithLabelValues(string(opts.Mode), statusClass(status)).Observe(time.Since(start).Seconds())
	return resp, err
}

func (s *TransformService) resolveSourceURL(match *pathresolver.Match) string {
	if match.Pattern.Origin != nil {
		candidates := origin.Candidates(match.Pattern, match.OriginPath)
		if len(candidates) > 0 {
			return candidates[0].SourceURL
		}
	}
	if match.Pattern.OriginURL != "" {
		return joinURL(match.Pattern.OriginURL, match.OriginPath)
	}
	return match.OriginPath
}

func (s *TransformService) runFallback(ctx context.Context, req Request, match *pathresolver.Match, opts model.TransformOptions, version int, lookupResult *LookupResult) *FallbackResult {
	var directFallbackURL string
	if match.Pattern.Auth == nil && match.Pattern.OriginURL != "" {
		directFallbackURL = joinURL(match.Pattern.OriginURL, match.OriginPath)
	}

	in := FallbackInput{
		Method:  req.Method,
		Path:    match.OriginPath,
		Header:  req.Header,
		Pattern: match.Pattern,
		Options: opts,
		OriginalError: &repository.UpstreamResponse{
			Status: lookupResult.Status, Header: lookupResult.Header, Body: lookupResult.Body,
		},
		Retry: func(ctx context.Context, adjusted model.TransformOptions) (*repository.UpstreamResponse, error) {
			return s.fetchUpstream(ctx, req, match, adjusted, version)
		},
		DirectFetch: func(ctx context.Context, method, target string, header http.Header) (*repository.UpstreamResponse, error) {
			return s.upstream.Fetch(ctx, method, target, header)
		},
		StorageFetch: func(ctx context.Context, candidates []origin.SourceResolution) (*repository.UpstreamResponse, string, error) {
			return s.fetchCandidates(ctx, req, candidates)
		},
		DirectFallbackURL: directFallbackURL,
		EdgeCache:         s.edge,
		PresignCache:      s.presign,
		Events:            s.events,
	}
	return s.fallback.Run(ctx, in)
}

// fetchCandidates tries each source in priority order (already sorted by
// origin.Candidates), returning the first 2xx, or the last attempted
// response so the caller can still report its status.
func (s *TransformService) fetchCandidates(ctx context.Context, req Request, candidates []origin.SourceResolution) (*repository.UpstreamResponse, string, error) {
	var last *repository.UpstreamResponse
	var lastErr error
	for _, c := range candidates {
		resp, err := s.upstream.Fetch(ctx, req.Method, c.SourceURL, req.Header)
		if err != nil {
			lastErr = err
			continue
		}
		last = resp
		if resp.Status >= 200 && resp.Status < 300 {
			return resp, string(c.Source.Type), nil
		}
	}
	if last != nil {
		return last, "", nil
	}
	return nil, "", lastErr
}

func parseRawParams(rawQuery string) map[string]string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func edgeCacheKey(req Request) string {
	if req.RawQuery == "" {
		return req.Path
	}
	return req.Path + "?" + req.RawQuery
}

// guessContentType provides the CacheController a best-effort Content-Type,
// derived from the requested format and mode before the real upstream
// response is known. The CacheController uses it for the cacheability
// check and stores it with the variant and with queued edge-cache writes;
// only a synchronous edge-cache write keeps the upstream response's headers.
func guessContentType(opts model.TransformOptions) string {
	if ct, ok := formatContentType[strings.ToLower(opts.Format)]; ok {
		return ct
	}
	switch opts.Mode {
	case model.ModeFrame, model.ModeSpritesheet:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

var formatContentType = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

func storageTags(match *pathresolver.Match, opts model.TransformOptions) []string {
	tags := []string{"video-resizer", "pattern:" + match.Pattern.Name}
	if opts.Derivative != "" {
		tags = append(tags, "derivative:"+opts.Derivative)
	}
	return tags
}

// buildForwardHeader carries only conditional/negotiation headers to the
// upstream transform service; Range is handled locally (C6/C7 synthesize
// it from a full cached body) and never forwarded upstream.
func buildForwardHeader(h http.Header) http.Header {
	out := http.Header{}
	for _, name := range []string{"Accept", "If-None-Match", "If-Modified-Since", "User-Agent"} {
		if v := h.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

func unsatisfiableRangeHeader(total int64) http.Header {
	h := http.Header{}
	h.Set("Content-Range", rediscache.UnsatisfiableContentRangeHeader(total))
	h.Set("Cache-Control", "no-store")
	return h
}

// clampDuration applies a previously observed duration-limit bound (§4.10
// step A.3) to a freshly requested duration, so future requests for the
// same path are pre-clamped instead of round-tripping through a failure.
// Units must match to compare; a unit mismatch leaves current untouched
// rather than risk comparing incompatible magnitudes.
func clampDuration(current, bound string) string {
	cn, cu := splitDurationUnit(current)
	bn, bu := splitDurationUnit(bound)
	if cu == "" {
		cu = "s"
	}
	if bu == "" {
		bu = "s"
	}
	if cu != bu {
		return current
	}
	cf, err1 := strconv.ParseFloat(cn, 64)
	bf, err2 := strconv.ParseFloat(bn, 64)
	if err1 != nil || err2 != nil || cf <= bf {
		return current
	}
	return bound
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
