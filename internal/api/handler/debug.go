package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/edgevid/proxy/internal/usecase"
)

// diagnostics is the shape interpolated into the debug page for a
// ?debug=view|true request.
type diagnostics struct {
	Status       int               `json:"status"`
	Source       string            `json:"source"`
	Path         string            `json:"path"`
	OriginPath   string            `json:"originPath"`
	Options      string            `json:"options"`
	Warnings     []string          `json:"warnings,omitempty"`
	RangeApplied bool              `json:"rangeApplied"`
	Header       map[string]string `json:"header"`
}

func writeDebugResponse(w http.ResponseWriter, result *usecase.Result) {
	d := diagnostics{
		Status:       result.Status,
		Source:       result.Source,
		Path:         result.Path,
		OriginPath:   result.OriginPath,
		Options:      result.Options.String(),
		Warnings:     result.Warnings,
		RangeApplied: result.RangeApplied,
		Header:       flattenHeader(result.Header),
	}

	body, err := safeMarshal(d)
	if err != nil {
		body = []byte(`{"error":"failed to render diagnostics"}`)
	}

	// The static-assets debug page template is an external collaborator
	// (out of scope); without it we emit the minimal HTML fallback the
	// response builder is permitted to fall back to.
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!doctype html><html><head><title>transform debug</title></head>"+
		"<body><pre id=\"diagnostics\">%s</pre></body></html>", escapeForHTML(body))
}

func flattenHeader(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// escapeForHTML neutralizes <, >, and & in JSON embedded in an HTML
// document, matching §4.11's escaping requirement.
func escapeForHTML(b []byte) string {
	s := string(b)
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// safeMarshal is a circular-reference-aware json.Marshal: it walks the
// value with reflection, tracking visited pointers, and substitutes
// "<circular>" instead of recursing into a structure that revisits an
// already-seen pointer. diagnostics itself is acyclic by construction;
// this exists because the debug page is a general interpolation point and
// must not hang or panic if a future field introduces a cycle.
func safeMarshal(v any) ([]byte, error) {
	seen := map[uintptr]bool{}
	sanitized := sanitize(reflect.ValueOf(v), seen, 0)
	return json.Marshal(sanitized)
}

const maxSanitizeDepth = 32

func sanitize(v reflect.Value, seen map[uintptr]bool, depth int) any {
	if depth > maxSanitizeDepth {
		return "<max-depth>"
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), seen, depth+1)
	case reflect.Map:
		ptr := v.Pointer()
		if ptr != 0 {
			if seen[ptr] {
				return "<circular>"
			}
			seen[ptr] = true
		}
		out := make(map[string]any, v.Len())
		for _, k := range v.MapKeys() {
			out[fmt.Sprintf("%v", k.Interface())] = sanitize(v.MapIndex(k), seen, depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			ptr := v.Pointer()
			if ptr != 0 {
				if seen[ptr] {
					return "<circular>"
				}
				seen[ptr] = true
			}
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), seen, depth+1)
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Tag.Get("json")
			if name == "" {
				name = field.Name
			} else {
				name = strings.Split(name, ",")[0]
			}
			out[name] = sanitize(v.Field(i), seen, depth+1)
		}
		return out
	default:
		if v.CanInterface() {
			return v.Interface()
		}
		return nil
	}
}
