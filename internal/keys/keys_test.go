package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_Basic(t *testing.T) {
	t.Parallel()

	s := New(Config{})

	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "host path and query",
			url:  "https://example.com/a/b?x=1",
			want: "example.com_a_b_x_1.html",
		},
		{
			name: "trailing slash",
			url:  "https://example.com/docs/",
			want: "example.com_docs.html",
		},
		{
			name: "reserved characters collapse",
			url:  "https://example.com/a//b??x==1&&y=2#frag",
			want: "example.com_a_b_x_1_y_2.html",
		},
		{
			name: "existing extension kept",
			url:  "https://example.com/page.html",
			want: "example.com_page.html",
		},
		{
			name: "encoded spaces",
			url:  "https://example.com/a%20b",
			want: "example.com_a_b.html",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, diag := s.Sanitize(tc.url)
			require.NoError(t, diag)
			assert.Equal(t, tc.want, key)
		})
	}
}

func TestSanitize_NeverEmptyAndSafe(t *testing.T) {
	t.Parallel()

	s := New(Config{})

	urls := []string{
		"https://example.com/a/b?x=1",
		"https:///",
		"",
		"%%%",
		"://bad",
		"https://пример.рф/путь",
		"https://example.com/" + strings.Repeat("x", 4096),
	}

	for _, u := range urls {
		key, _ := s.Sanitize(u)
		assert.NotEmpty(t, key, "url %q", u)
		assert.LessOrEqual(t, len(key), DefaultConfig().MaxBytes, "url %q", u)
		assert.NotContains(t, key, "?", "url %q", u)
		assert.NotContains(t, key, "&", "url %q", u)
		assert.NotContains(t, key, "=", "url %q", u)
		assert.NotContains(t, key, "#", "url %q", u)
		assert.NotContains(t, key, "%", "url %q", u)
		assert.NotContains(t, key, ":", "url %q", u)
		assert.NotContains(t, key, `\`, "url %q", u)
		assert.NotContains(t, key, "/", "url %q", u)

		again, _ := s.Sanitize(u)
		assert.Equal(t, key, again, "sanitize must be deterministic for %q", u)
	}
}

func TestSanitize_IdempotentWithoutTruncation(t *testing.T) {
	t.Parallel()

	s := New(Config{})

	key, diag := s.Sanitize("https://example.com/a/b?x=1")
	require.NoError(t, diag)

	rekey, diag := s.Sanitize(key)
	require.NoError(t, diag)
	assert.Equal(t, key, rekey)
}

func TestSanitize_TruncatesOnBoundary(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxBytes: 32})

	key, diag := s.Sanitize("https://example.com/very/long/path/segments/keep/going/on")
	require.NoError(t, diag)
	assert.LessOrEqual(t, len(key), 32)
	assert.True(t, strings.HasSuffix(key, ".html"))
	assert.False(t, strings.Contains(strings.TrimSuffix(key, ".html"), "__"))
	assert.NotContains(t, key, "_.html")
}

func TestSanitize_FallbackOnUnusableInput(t *testing.T) {
	t.Parallel()

	s := New(Config{})

	key, diag := s.Sanitize("https:///")
	require.Error(t, diag)
	assert.True(t, strings.HasPrefix(key, "url-"))
	assert.True(t, strings.HasSuffix(key, ".html"))

	// The fallback is as deterministic as the derived form.
	again, _ := s.Sanitize("https:///")
	assert.Equal(t, key, again)
}
