// Package keys derives deterministic, storage-safe object keys from URLs.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// unsafeChars matches every run of characters that may not appear in an
// object key, including the reserved set \?&=#%: and path separators.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Config bounds and shapes generated keys.
type Config struct {
	// MaxBytes caps the key length, extension included.
	MaxBytes int
	// DefaultExtension is appended when the derived key lacks it.
	DefaultExtension string
}

// DefaultConfig returns the limits used in production buckets.
func DefaultConfig() Config {
	return Config{MaxBytes: 240, DefaultExtension: ".html"}
}

// Sanitizer converts URLs into object keys.
type Sanitizer struct {
	cfg Config
}

// New builds a Sanitizer, filling zero config fields with defaults.
func New(cfg Config) *Sanitizer {
	def := DefaultConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.DefaultExtension == "" {
		cfg.DefaultExtension = def.DefaultExtension
	}
	return &Sanitizer{cfg: cfg}
}

// Sanitize derives an object key from rawURL. It never fails: when the URL
// cannot be parsed, or sanitization leaves nothing usable, the returned key
// is derived from a hash of the input and the diagnostic says why. Callers
// decide whether to log the diagnostic.
func (s *Sanitizer) Sanitize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return s.fallback(rawURL), fmt.Errorf("parse url: %w", err)
	}

	raw := u.Host + u.Path
	if u.RawQuery != "" {
		raw += "?" + u.RawQuery
	}

	key := unsafeChars.ReplaceAllString(raw, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		return s.fallback(rawURL), fmt.Errorf("url %q sanitized to empty key", rawURL)
	}

	if !strings.HasSuffix(key, s.cfg.DefaultExtension) {
		key += s.cfg.DefaultExtension
	}
	return s.truncate(key), nil
}

// truncate enforces the byte ceiling, cutting before the extension so the
// suffix survives and trimming any separator left dangling at the cut.
func (s *Sanitizer) truncate(key string) string {
	if len(key) <= s.cfg.MaxBytes {
		return key
	}
	ext := s.cfg.DefaultExtension
	if !strings.HasSuffix(key, ext) {
		ext = ""
	}
	stem := key[:len(key)-len(ext)]
	room := s.cfg.MaxBytes - len(ext)
	if room < 1 {
		room = 1
	}
	if len(stem) > room {
		stem = stem[:room]
	}
	stem = strings.TrimRight(stem, "._")
	return stem + ext
}

// fallback produces a hash-derived key so a hostile or malformed URL is
// never a single point of failure for the whole batch.
func (s *Sanitizer) fallback(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return "url-" + hex.EncodeToString(sum[:])[:20] + s.cfg.DefaultExtension
}
