// Package chunk splits extracted text into bounded, overlapping segments.
//
// The splitter walks a priority-ordered separator list from coarse to fine.
// Text is split on the current separator (retained as a suffix of the piece
// before it) and consecutive pieces are greedily packed into chunks of at
// most Size runes. A piece that is itself larger than Size recurses into the
// finer separators; the empty separator at the end of the list is the base
// case and windows the text unconditionally, so splitting terminates on any
// input. Consecutive chunks share an overlap of up to Overlap runes drawn
// from the tail of the previous completed chunk.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators orders break points from paragraph down to
// split-anywhere. The final empty string is the windowing base case.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config controls chunk geometry. Sizes are measured in runes so multi-byte
// text is never cut mid-character.
type Config struct {
	// Size is the maximum chunk length. Only an indivisible fragment longer
	// than Size is ever emitted above it, preserved whole.
	Size int
	// Overlap is the number of trailing runes of a completed chunk repeated
	// at the head of the next one.
	Overlap int
	// Separators overrides DefaultSeparators when non-nil.
	Separators []string
}

// Splitter produces deterministic chunk sequences for a fixed Config.
type Splitter struct {
	cfg Config
}

// New validates cfg and builds a Splitter.
func New(cfg Config) (*Splitter, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", cfg.Size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", cfg.Overlap)
	}
	if cfg.Separators == nil {
		cfg.Separators = DefaultSeparators
	}
	return &Splitter{cfg: cfg}, nil
}

// Split returns the ordered chunk sequence for text. Chunks are trimmed of
// leading and trailing whitespace after assembly; pieces that trim to
// nothing are dropped. Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	var out []string
	s.splitAt(text, 0, &out)
	return out
}

// splitAt chunks text using separators[i:] and appends to out. It returns
// the pre-trim text of the last chunk it completed, or "" if it emitted
// none. Overlap seeds are always taken from that pre-trim text so boundary
// characters removed by trimming are not lost.
func (s *Splitter) splitAt(text string, i int, out *[]string) string {
	if text == "" {
		return ""
	}
	if i >= len(s.cfg.Separators) {
		// No finer separator remains: an indivisible fragment is preserved
		// whole rather than truncated.
		s.emit(text, out)
		return text
	}
	sep := s.cfg.Separators[i]
	if sep == "" {
		return s.window(text, out)
	}

	var (
		last    string // pre-trim text of the last completed chunk
		seed    string // overlap carried into the current buffer
		content string // new material in the current buffer
	)
	flush := func() {
		// Whitespace-only content would emit a chunk that is pure overlap;
		// drop it and keep the current seed.
		if strings.TrimSpace(content) == "" {
			content = ""
			return
		}
		last = seed + content
		s.emit(last, out)
		seed = tailRunes(last, s.cfg.Overlap)
		content = ""
	}

	for _, piece := range splitKeep(text, sep) {
		plen := utf8.RuneCountInString(piece)
		if plen > s.cfg.Size {
			flush()
			if sub := s.splitAt(piece, i+1, out); sub != "" {
				last = sub
				seed = tailRunes(sub, s.cfg.Overlap)
			}
			continue
		}
		if content != "" && utf8.RuneCountInString(seed)+utf8.RuneCountInString(content)+plen > s.cfg.Size {
			flush()
		}
		if content == "" {
			// A full overlap seed plus this piece may not fit; shrink the
			// seed so the size cap holds for divisible input.
			if room := s.cfg.Size - plen; utf8.RuneCountInString(seed) > room {
				seed = tailRunes(seed, max(room, 0))
			}
		}
		content += piece
	}
	flush()
	return last
}

// window is the split-anywhere base case: fixed windows of Size runes
// advancing by Size-Overlap, which is positive by construction.
func (s *Splitter) window(text string, out *[]string) string {
	runes := []rune(text)
	step := s.cfg.Size - s.cfg.Overlap
	var last string
	for start := 0; ; start += step {
		end := start + s.cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		last = string(runes[start:end])
		s.emit(last, out)
		if end == len(runes) {
			return last
		}
	}
}

func (s *Splitter) emit(raw string, out *[]string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	*out = append(*out, trimmed)
}

// splitKeep splits text on sep, keeping sep as a suffix of the preceding
// piece so the pieces re-concatenate to the input.
func splitKeep(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
