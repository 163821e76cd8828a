// Package model holds the domain entities shared across the resolver,
// transform, origin, and cache layers.
package model

import "fmt"

// Mode is the transformation mode requested for a source.
type Mode string

const (
	ModeVideo       Mode = "video"
	ModeFrame       Mode = "frame"
	ModeSpritesheet Mode = "spritesheet"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeVideo, ModeFrame, ModeSpritesheet:
		return true
	default:
		return false
	}
}

// TransformOptions is the normalized set of transform parameters for a
// single request. Every field is optional; zero values are omitted from
// the upstream URL (bool/int fields use pointers to distinguish "absent"
// from "explicit zero/false").
type TransformOptions struct {
	Mode       Mode
	Width      *int
	Height     *int
	Fit        string
	Quality    string
	Format     string
	Compression string
	Time       string
	Duration   string
	FPS        *int
	Audio      *bool
	Loop       *bool
	Autoplay   *bool
	Muted      *bool
	Preload    string
	Derivative string
	Version    *int
}

// Clone returns a deep-enough copy for safe mutation (derivative expansion
// writes into a copy rather than the caller's struct).
func (o TransformOptions) Clone() TransformOptions {
	c := o
	if o.Width != nil {
		w := *o.Width
		c.Width = &w
	}
	if o.Height != nil {
		h := *o.Height
		c.Height = &h
	}
	if o.FPS != nil {
		f := *o.FPS
		c.FPS = &f
	}
	if o.Audio != nil {
		b := *o.Audio
		c.Audio = &b
	}
	if o.Loop != nil {
		b := *o.Loop
		c.Loop = &b
	}
	if o.Autoplay != nil {
		b := *o.Autoplay
		c.Autoplay = &b
	}
	if o.Muted != nil {
		b := *o.Muted
		c.Muted = &b
	}
	if o.Version != nil {
		v := *o.Version
		c.Version = &v
	}
	return c
}

// Derivative is a named preset of transform parameters.
type Derivative struct {
	Name        string
	Width       int
	Height      int
	Quality     string
	Compression string
	Duration    string
}

// CacheTTLPolicy maps a response's status class to a cache lifetime.
type CacheTTLPolicy struct {
	OK          int
	Redirects   int
	ClientError int
	ServerError int
}

// TTLForStatus returns the configured TTL (seconds) for an HTTP status code,
// and whether that status class is cacheable at all.
func (p CacheTTLPolicy) TTLForStatus(status int) (ttl int, cacheable bool) {
	switch {
	case status >= 200 && status < 300:
		return p.OK, true
	case status >= 300 && status < 400:
		return p.Redirects, p.Redirects > 0
	case status >= 400 && status < 500:
		return p.ClientError, p.ClientError > 0
	case status >= 500:
		return p.ServerError, p.ServerError > 0
	default:
		return 0, false
	}
}

// String renders options for debugging/logging.
func (o TransformOptions) String() string {
	return fmt.Sprintf("TransformOptions{mode=%s derivative=%q width=%v height=%v}", o.Mode, o.Derivative, o.Width, o.Height)
}
