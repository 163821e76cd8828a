package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VariantKey identifies a transformed variant by path, canonicalized
// options, and version. Two TransformOptions that differ only in field
// order or default-valued fields canonicalize to the same key (P6).
type VariantKey struct {
	Path    string
	Options TransformOptions
	Version int

	// hash, when set, overrides canonical hashing in String(). Used to
	// reconstruct a key from its hash alone (e.g. a background task that
	// only carries the hash, not the original path/options).
	hash string
}

// VariantKeyFromHash builds a VariantKey whose String() returns hash
// verbatim, for callers that only have the hashed form (background task
// consumers) and never need to recompute it.
func VariantKeyFromHash(hash string) VariantKey {
	return VariantKey{hash: hash}
}

// String renders the canonical, hashed form used as the KV store key
// suffix: hash(path, canonicalize(options), version).
func (k VariantKey) String() string {
	if k.hash != "" {
		return k.hash
	}
	sum := sha256.Sum256([]byte(k.canonicalForm()))
	return hex.EncodeToString(sum[:])
}

// canonicalForm sorts fields by name and omits defaults so that
// semantically equal option sets produce identical strings.
func (k VariantKey) canonicalForm() string {
	fields := map[string]string{}
	if k.Options.Mode != "" && k.Options.Mode != ModeVideo {
		fields["mode"] = string(k.Options.Mode)
	}
	if k.Options.Width != nil {
		fields["width"] = strconv.Itoa(*k.Options.Width)
	}
	if k.Options.Height != nil {
		fields["height"] = strconv.Itoa(*k.Options.Height)
	}
	if k.Options.Fit != "" {
		fields["fit"] = k.Options.Fit
	}
	if k.Options.Quality != "" {
		fields["quality"] = k.Options.Quality
	}
	if k.Options.Format != "" {
		fields["format"] = k.Options.Format
	}
	if k.Options.Compression != "" {
		fields["compression"] = k.Options.Compression
	}
	if k.Options.Time != "" {
		fields["time"] = k.Options.Time
	}
	if k.Options.Duration != "" {
		fields["duration"] = k.Options.Duration
	}
	if k.Options.FPS != nil {
		fields["fps"] = strconv.Itoa(*k.Options.FPS)
	}
	if k.Options.Audio != nil {
		fields["audio"] = strconv.FormatBool(*k.Options.Audio)
	}
	if k.Options.Loop != nil {
		fields["loop"] = strconv.FormatBool(*k.Options.Loop)
	}
	if k.Options.Autoplay != nil {
		fields["autoplay"] = strconv.FormatBool(*k.Options.Autoplay)
	}
	if k.Options.Muted != nil {
		fields["muted"] = strconv.FormatBool(*k.Options.Muted)
	}
	if k.Options.Preload != "" {
		fields["preload"] = k.Options.Preload
	}
	if k.Options.Derivative != "" {
		fields["derivative"] = k.Options.Derivative
	}

	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Path)
	b.WriteByte('|')
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(fields[n])
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(k.Version))
	return b.String()
}

// ChunkType distinguishes single-part from chunked variant storage.
type ChunkType string

const (
	ChunkTypeSingle  ChunkType = "single"
	ChunkTypeChunked ChunkType = "chunked"
)

// Manifest describes a chunked Variant's layout. It is written strictly
// after all of its chunks (V1/P3): a reader that observes a manifest must
// also observe every chunk it names, or else treat the variant as absent.
type Manifest struct {
	Type        ChunkType
	TotalSize   int64
	ChunkCount  int
	ChunkSize   int64
	ContentType string
	SHA256      string
}

// Chunk is one slice of a chunked Variant's body.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
	Body   []byte
}

// Variant is a concrete transformed output for one VariantKey.
type Variant struct {
	Body          []byte
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  string
	ExpiresAt     int64
	Tags          []string
	Manifest      *Manifest
}

// SHA256Hex returns the hex-encoded sha256 digest of body, used for the
// integrity field recorded on write and re-checked on read (P2).
func SHA256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ETagFor synthesizes the ETag used by the edge cache adapter when one is
// absent from the upstream response: "{hex(size)}-{base36(now)}".
func ETagFor(size int64, now int64) string {
	return fmt.Sprintf("\"%s-%s\"", strconv.FormatInt(size, 16), strconv.FormatInt(now, 36))
}
