package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allSentinels() []error {
	return []error{
		ErrSyncInProgress,
		ErrInitializationFailed,
		ErrNotAuthenticated,
		ErrFileAlreadyExists,
		ErrDifferentFileTypes,
		ErrNoContent,
		ErrBackendIO,
		ErrRateLimited,
		ErrUnexpected,
	}
}

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	for _, err := range allSentinels() {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := allSentinels()
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSyncError_MatchesKindSentinel(t *testing.T) {
	tests := []struct {
		err  error
		want error
		kind Kind
	}{
		{InitializationFailed("backend not ready"), ErrInitializationFailed, KindInitializationFailed},
		{NotAuthenticated(), ErrNotAuthenticated, KindNotAuthenticated},
		{FileAlreadyExists("a.txt"), ErrFileAlreadyExists, KindFileAlreadyExists},
		{DifferentFileTypes("a.txt", "a.md"), ErrDifferentFileTypes, KindDifferentFileTypes},
		{NoContent("a.txt"), ErrNoContent, KindNoContent},
		{BackendIO("a.txt", fmt.Errorf("boom")), ErrBackendIO, KindBackendIO},
		{RateLimited("a.txt", nil), ErrRateLimited, KindRateLimited},
		{Unexpected("oops"), ErrUnexpected, KindUnexpected},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.want)
		assert.Equal(t, tt.kind, KindOf(tt.err))

		wrapped := fmt.Errorf("uploading: %w", tt.err)
		assert.ErrorIs(t, wrapped, tt.want)
		assert.Equal(t, tt.kind, KindOf(wrapped))
	}
}

func TestSyncError_DoesNotMatchOtherSentinels(t *testing.T) {
	err := NoContent("a.txt")
	assert.NotErrorIs(t, err, ErrFileAlreadyExists)
	assert.NotErrorIs(t, err, ErrBackendIO)
}

func TestSyncError_Message(t *testing.T) {
	assert.Equal(t, "no content: a.txt", NoContent("a.txt").Error())
	assert.Equal(t, "initialization failed (backend not ready)", InitializationFailed("backend not ready").Error())
	assert.Equal(t, "backend I/O error: a.txt: disk full", BackendIO("a.txt", errors.New("disk full")).Error())
}

func TestSyncError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := BackendIO("a.txt", cause)
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
}

func TestFlatten(t *testing.T) {
	a := NoContent("a.txt")
	b := FileAlreadyExists("b.txt")
	c := errors.New("c")

	assert.Nil(t, Flatten(nil))
	assert.Equal(t, []error{a}, Flatten(a))

	got := Flatten(errors.Join(a, errors.Join(b, c)))
	require.Len(t, got, 3)
	assert.Equal(t, []error{a, b, c}, got)
}
