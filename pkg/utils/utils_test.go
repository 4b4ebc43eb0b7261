package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	assert.Equal(t, "None", CategorizeError(nil))
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"NotArchived", ErrNotArchived, "Archive_NotArchived"},
		{"FetchFailedNetwork", fmt.Errorf("%w: dial tcp: connection refused", ErrFetchFailed), "Fetch_Network"},
		{"FetchFailed404", fmt.Errorf("%w: %w: status 404 Not Found", ErrFetchFailed, ErrClientHTTPError), "Fetch_HTTP_404"},
		{"FetchFailed4xx", fmt.Errorf("%w: %w: status 410 Gone", ErrFetchFailed, ErrClientHTTPError), "Fetch_HTTP_4xx"},
		{"FetchFailed5xx", fmt.Errorf("%w: %w: status 503", ErrFetchFailed, ErrServerHTTPError), "Fetch_HTTP_5xx"},
		{"MaxDepth", ErrMaxDepthExceeded, "Policy_MaxDepth"},
		{"Cycle", ErrCycleDetected, "Policy_Cycle"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"Database", ErrDatabase, "Database_Other"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategorizeError(tt.err))
		})
	}
}

func TestCategorizeError_ParsingErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"URL", fmt.Errorf("%w: URL 'x' invalid", ErrParsing), "Content_ParsingURL"},
		{"HTML", fmt.Errorf("%w: HTML caption block", ErrParsing), "Content_ParsingHTML"},
		{"JSON", fmt.Errorf("%w: availability JSON", ErrParsing), "Content_ParsingJSON"},
		{"Other", fmt.Errorf("%w: view count", ErrParsing), "Content_ParsingOther"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategorizeError(tt.err))
		})
	}
}

func TestCategorizeError_ContextAndNetwork(t *testing.T) {
	assert.Equal(t, "System_ContextCanceled", CategorizeError(context.Canceled))
	assert.Equal(t, "System_ContextDeadlineExceeded", CategorizeError(context.DeadlineExceeded))
	assert.Equal(t, "Network_ConnectionRefused", CategorizeError(errors.New("dial: connection refused")))
	assert.Equal(t, "Network_DNSLookup", CategorizeError(errors.New("lookup foo: no such host")))
	assert.Equal(t, "Unknown", CategorizeError(errors.New("something else")))
}

func TestIsSkippable(t *testing.T) {
	assert.True(t, IsSkippable(ErrNotArchived))
	assert.True(t, IsSkippable(fmt.Errorf("wrapped: %w", ErrFetchFailed)))
	assert.False(t, IsSkippable(ErrFilesystem))
	assert.False(t, IsSkippable(nil))
}

func TestWrapErrorf(t *testing.T) {
	assert.Nil(t, WrapErrorf(nil, "ctx"))

	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")
	assert.ErrorIs(t, wrapped, original)
	assert.Equal(t, "context value: original error", wrapped.Error())
}

// --- SafeDirName Tests ---

func TestSafeDirName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain", "Holiday 2006", "Holiday 2006"},
		{"AllowedPunctuation", "Trip #3 - part_2", "Trip #3 - part_2"},
		{"Slash", "Oslo/Bergen", "Oslo_Bergen"},
		{"Colon", "Day: one", "Day_ one"},
		{"NorwegianLetters", "Båt på fjorden", "B_t p_ fjorden"},
		{"Emoji", "Party 🎉", "Party _"},
		{"DotsAndParens", "v1.0 (beta)", "v1_0 _beta_"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeDirName(tt.input))
		})
	}
}

func TestSafeDirName_OutputAlphabet(t *testing.T) {
	allowed := regexp.MustCompile(`^[A-Za-z0-9_\- #]*$`)
	inputs := []string{
		"a/b:c😀d",
		"../../etc/passwd",
		"C:\\Windows\\System32",
		"tab\tnew\nline",
		"ÆØÅ æøå 🎂🎈",
	}
	for _, in := range inputs {
		out := SafeDirName(in)
		assert.Regexp(t, allowed, out, "input %q", in)
	}
}

// --- URLBasename Tests ---

func TestURLBasename(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"http://example.com/albums/trip/IMG_0001.jpg", "IMG_0001.jpg"},
		{"http://example.com/albums/trip/IMG_0001.sized.jpg?x=1", "IMG_0001.sized.jpg"},
		{"http://example.com/albums/trip/IMG_0001.thumb.jpg#frag", "IMG_0001.thumb.jpg"},
		{"relative/dir/pic.png", "pic.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, URLBasename(tt.in))
		})
	}
}

// --- CacheDigest Tests ---

func TestCacheDigest(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", CacheDigest(""))
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", CacheDigest("hello world"))
	assert.Equal(t, CacheDigest("http://a|"), CacheDigest("http://a|"))
	assert.NotEqual(t, CacheDigest("http://a|"), CacheDigest("http://a|raw"))
}
