package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgevid/proxy/internal/domain/model"
)

// canonicalParamOrder is the fixed serialization order required by §4.3.
var canonicalParamOrder = []string{
	"width", "height", "mode", "fit", "quality", "format", "compression",
	"time", "duration", "fps", "audio", "loop", "autoplay", "muted", "preload",
}

// VersionQueryParam is the reserved cache-busting query parameter name
// appended to the built URL when a version is present.
const VersionQueryParam = "v"

// Build produces the upstream URL:
// {scheme}://{host}{basePath}/{k=v,...}/{sourceUrl}, serializing opts in
// canonical order and appending the version query parameter if set.
func Build(scheme, host, basePath string, opts model.TransformOptions, sourceURL string, version *int) string {
	params := serializeParams(opts)

	var b strings.Builder
	fmt.Fprintf(&b, "%s://%s%s", scheme, host, normalizeBasePath(basePath))
	b.WriteByte('/')
	b.WriteString(params)
	b.WriteByte('/')
	b.WriteString(sourceURL)

	out := b.String()
	if version != nil {
		sep := "?"
		if strings.Contains(sourceURL, "?") {
			sep = "&"
		}
		out += sep + VersionQueryParam + "=" + strconv.Itoa(*version)
	}
	return out
}

func normalizeBasePath(basePath string) string {
	if basePath == "" {
		basePath = "/cdn-cgi/media"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return strings.TrimSuffix(basePath, "/")
}

// serializeParams renders opts as comma-separated k=v pairs in canonical
// order; absent fields are omitted, booleans render as true/false,
// numerics as plain decimal.
func serializeParams(opts model.TransformOptions) string {
	values := map[string]string{}
	if opts.Width != nil {
		values["width"] = strconv.Itoa(*opts.Width)
	}
	if opts.Height != nil {
		values["height"] = strconv.Itoa(*opts.Height)
	}
	values["mode"] = string(opts.Mode)
	if opts.Fit != "" {
		values["fit"] = opts.Fit
	}
	if opts.Quality != "" {
		values["quality"] = opts.Quality
	}
	if opts.Format != "" {
		values["format"] = opts.Format
	}
	if opts.Compression != "" {
		values["compression"] = opts.Compression
	}
	if opts.Time != "" {
		values["time"] = opts.Time
	}
	if opts.Duration != "" {
		values["duration"] = opts.Duration
	}
	if opts.FPS != nil {
		values["fps"] = strconv.Itoa(*opts.FPS)
	}
	if opts.Audio != nil {
		values["audio"] = strconv.FormatBool(*opts.Audio)
	}
	if opts.Loop != nil {
		values["loop"] = strconv.FormatBool(*opts.Loop)
	}
	if opts.Autoplay != nil {
		values["autoplay"] = strconv.FormatBool(*opts.Autoplay)
	}
	if opts.Muted != nil {
		values["muted"] = strconv.FormatBool(*opts.Muted)
	}
	if opts.Preload != "" {
		values["preload"] = opts.Preload
	}

	parts := make([]string, 0, len(canonicalParamOrder))
	for _, name := range canonicalParamOrder {
		if v, ok := values[name]; ok {
			parts = append(parts, name+"="+v)
		}
	}
	return strings.Join(parts, ",")
}
