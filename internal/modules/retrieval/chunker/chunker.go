// Package chunker splits normalized document text into bounded, overlapping
// segments, preferring paragraph breaks near the nominal cut point.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	DefaultChunkSize    = 1200
	DefaultOverlap      = 200
	DefaultSoftBoundary = 200
)

// Config sizes are measured in characters (runes).
type Config struct {
	ChunkSize    int `yaml:"chunk_size"`
	Overlap      int `yaml:"overlap"`
	SoftBoundary int `yaml:"soft_boundary"`
}

func DefaultConfig() Config {
	return Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap, SoftBoundary: DefaultSoftBoundary}
}

// Segment is one chunk of the normalized text. StartChar/EndChar are rune
// offsets, EndChar exclusive.
type Segment struct {
	Index       int
	Content     string
	ContentHash string
	StartChar   int
	EndChar     int
}

type Chunker struct {
	cfg Config
}

// New clamps out-of-range settings: a non-positive size falls back to the
// default, overlap is kept in [0, size) and the soft boundary is never negative.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize - 1
	}
	if cfg.SoftBoundary < 0 {
		cfg.SoftBoundary = 0
	}
	return &Chunker{cfg: cfg}
}

func (c *Chunker) Config() Config { return c.cfg }

// Normalize converts CRLF and lone CR line endings to LF.
func Normalize(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
}

// Chunk returns the segments of text in order. Empty or whitespace-only input
// yields no segments.
func (c *Chunker) Chunk(text string) []Segment {
	text = Normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r := []rune(text)
	n := len(r)
	size, overlap, soft := c.cfg.ChunkSize, c.cfg.Overlap, c.cfg.SoftBoundary

	out := make([]Segment, 0, n/max(size-overlap, 1)+1)
	start := 0
	for start < n {
		end := min(start+size, n)
		if end < n {
			lo := max(end-soft, start)
			hi := min(end+soft, n)
			if cut := lastParagraphBreak(r, lo, hi); cut > start {
				end = cut
			}
		}

		// Blank windows inside non-blank text are kept so consecutive
		// segments always overlap by exactly the configured amount.
		content := string(r[start:end])
		out = append(out, Segment{
			Index:       len(out),
			Content:     content,
			ContentHash: Hash(content),
			StartChar:   start,
			EndChar:     end,
		})

		if end >= n {
			break
		}
		start = max(end-overlap, start+1)
	}
	return out
}

// lastParagraphBreak returns the index of the right-most "\n\n" lying fully
// inside r[lo:hi], or -1.
func lastParagraphBreak(r []rune, lo, hi int) int {
	for i := hi - 2; i >= lo; i-- {
		if r[i] == '\n' && r[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// Hash is the hex SHA-256 of the UTF-8 content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
