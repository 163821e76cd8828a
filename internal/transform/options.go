// Package transform implements the options model and derivative expander
// (C2) and the transform URL builder (C3).
package transform

import (
	"strconv"
	"strings"

	"github.com/edgevid/proxy/internal/domain/errkind"
	"github.com/edgevid/proxy/internal/domain/model"
)

// aliasTable maps parameter aliases to their canonical name. A single
// table drives all alias resolution (§4.2).
var aliasTable = map[string]string{
	"w":        "width",
	"h":        "height",
	"q":        "quality",
	"fmt":      "format",
	"comp":     "compression",
	"t":        "time",
	"dur":      "duration",
	"derivative": "derivative",
	"mode":       "mode",
	"width":      "width",
	"height":     "height",
	"fit":        "fit",
	"quality":    "quality",
	"format":     "format",
	"compression": "compression",
	"time":       "time",
	"duration":   "duration",
	"fps":        "fps",
	"audio":      "audio",
	"loop":       "loop",
	"autoplay":   "autoplay",
	"muted":      "muted",
	"preload":    "preload",
}

// modeAllowedParams enumerates the parameters permitted per mode (P7).
var modeAllowedParams = map[model.Mode]map[string]bool{
	model.ModeVideo: {
		"width": true, "height": true, "fit": true, "quality": true,
		"format": true, "compression": true, "time": true, "duration": true,
		"fps": true, "audio": true, "loop": true, "autoplay": true,
		"muted": true, "preload": true, "derivative": true,
	},
	model.ModeFrame: {
		"width": true, "height": true, "fit": true, "quality": true,
		"format": true, "time": true, "derivative": true,
	},
	model.ModeSpritesheet: {
		"width": true, "height": true, "fit": true, "quality": true,
		"format": true, "duration": true, "fps": true, "derivative": true,
	},
}

// NormalizeResult is the output of Normalize: the canonicalized options
// plus any mode-gating warnings recorded rather than surfaced as errors.
type NormalizeResult struct {
	Options  model.TransformOptions
	Warnings []string
}

// Normalize parses raw request parameters (already alias-resolved keys or
// raw aliases, either is accepted) into a TransformOptions value, applies
// derivative expansion, and gates parameters by mode.
func Normalize(raw map[string]string, derivatives map[string]model.Derivative) (*NormalizeResult, error) {
	resolved := make(map[string]string, len(raw))
	for k, v := range raw {
		canon, ok := aliasTable[strings.ToLower(k)]
		if !ok {
			continue
		}
		resolved[canon] = v
	}

	opts := model.TransformOptions{Mode: model.ModeVideo}
	if m, ok := resolved["mode"]; ok && m != "" {
		opts.Mode = model.Mode(m)
	}
	if !opts.Mode.Valid() {
		opts.Mode = model.ModeVideo
	}

	if v, ok := resolved["width"]; ok {
		n, err := parseNonNegativeInt("width", v)
		if err != nil {
			return nil, err
		}
		opts.Width = &n
	}
	if v, ok := resolved["height"]; ok {
		n, err := parseNonNegativeInt("height", v)
		if err != nil {
			return nil, err
		}
		opts.Height = &n
	}
	if v, ok := resolved["fps"]; ok {
		n, err := parsePositiveInt("fps", v)
		if err != nil {
			return nil, err
		}
		opts.FPS = &n
	}
	if v, ok := resolved["audio"]; ok {
		b, err := parseBool("audio", v)
		if err != nil {
			return nil, err
		}
		opts.Audio = &b
	}
	if v, ok := resolved["loop"]; ok {
		b, err := parseBool("loop", v)
		if err != nil {
			return nil, err
		}
		opts.Loop = &b
	}
	if v, ok := resolved["autoplay"]; ok {
		b, err := parseBool("autoplay", v)
		if err != nil {
			return nil, err
		}
		opts.Autoplay = &b
	}
	if v, ok := resolved["muted"]; ok {
		b, err := parseBool("muted", v)
		if err != nil {
			return nil, err
		}
		opts.Muted = &b
	}

	opts.Fit = resolved["fit"]
	opts.Quality = resolved["quality"]
	opts.Format = resolved["format"]
	opts.Compression = resolved["compression"]
	opts.Time = resolved["time"]
	opts.Duration = resolved["duration"]
	opts.Preload = resolved["preload"]
	opts.Derivative = resolved["derivative"]

	if opts.Derivative != "" {
		d, ok := derivatives[opts.Derivative]
		if !ok {
			return nil, errkind.New(errkind.UnknownDerivative, "unknown derivative", "derivative", opts.Derivative)
		}
		expandDerivative(&opts, d)
	}

	warnings := gateByMode(&opts)

	return &NormalizeResult{Options: opts, Warnings: warnings}, nil
}

// expandDerivative substitutes the derivative's width/height over any
// explicit values, and fills in other fields only where the caller left
// them empty (§4.2, §3 Derivative).
func expandDerivative(opts *model.TransformOptions, d model.Derivative) {
	w, h := d.Width, d.Height
	opts.Width = &w
	opts.Height = &h
	if opts.Quality == "" {
		opts.Quality = d.Quality
	}
	if opts.Compression == "" {
		opts.Compression = d.Compression
	}
	if opts.Duration == "" {
		opts.Duration = d.Duration
	}
}

// gateByMode removes parameters outside the current mode's allowed set
// and returns a warning for each one removed.
func gateByMode(opts *model.TransformOptions) []string {
	allowed := modeAllowedParams[opts.Mode]
	var warnings []string

	check := func(name string, present bool, clear func()) {
		if present && !allowed[name] {
			warnings = append(warnings, "parameter "+name+" not allowed in mode "+string(opts.Mode))
			clear()
		}
	}

	check("fps", opts.FPS != nil, func() { opts.FPS = nil })
	check("audio", opts.Audio != nil, func() { opts.Audio = nil })
	check("loop", opts.Loop != nil, func() { opts.Loop = nil })
	check("autoplay", opts.Autoplay != nil, func() { opts.Autoplay = nil })
	check("muted", opts.Muted != nil, func() { opts.Muted = nil })
	check("preload", opts.Preload != "", func() { opts.Preload = "" })
	check("time", opts.Time != "", func() { opts.Time = "" })
	check("duration", opts.Duration != "", func() { opts.Duration = "" })
	check("fit", opts.Fit != "", func() { opts.Fit = "" })
	check("compression", opts.Compression != "", func() { opts.Compression = "" })

	return warnings
}

func parseNonNegativeInt(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errkind.New(errkind.InvalidOption, "invalid "+field, "parameter", field, "value", v)
	}
	return n, nil
}

func parsePositiveInt(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errkind.New(errkind.InvalidOption, "invalid "+field, "parameter", field, "value", v)
	}
	return n, nil
}

func parseBool(field, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errkind.New(errkind.InvalidOption, "invalid "+field, "parameter", field, "value", v)
	}
	return b, nil
}
