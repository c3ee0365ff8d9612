package guardrail

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := NewStore(filepath.Join(t.TempDir(), "guardrail.db"), 3*time.Minute)
	if err != nil {
		t.Fatalf("failed to create guardrail store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAndGet(t *testing.T) {
	store := newTestStore(t)
	verifiedAt := time.Now()

	window, err := store.Open("order-1", verifiedAt)
	require.NoError(t, err)
	assert.False(t, window.Dismissed)
	assert.Equal(t, verifiedAt.Add(3*time.Minute).Unix(), window.ExpiresAt.Unix())

	got, found, err := store.Get("order-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, window.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}

// Re-opening never resets or extends the window, no matter how much later the
// customer comes back to the screen.
func TestReopenDoesNotExtend(t *testing.T) {
	store := newTestStore(t)
	verifiedAt := time.Now()

	first, err := store.Open("order-1", verifiedAt)
	require.NoError(t, err)

	second, err := store.Open("order-1", verifiedAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
}

// Confirm at T+179s succeeds; a repeat at T+200s is a no-op reporting the
// already-closed window.
func TestConfirmCountDismissOnce(t *testing.T) {
	store := newTestStore(t)
	opened := time.Now()
	store.Now = func() time.Time { return opened.Add(179 * time.Second) }

	_, err := store.Open("order-1", opened)
	require.NoError(t, err)

	window, err := store.ConfirmCount("order-1")
	require.NoError(t, err)
	assert.True(t, window.Dismissed)
	assert.Equal(t, OutcomeConfirmed, window.Outcome)

	store.Now = func() time.Time { return opened.Add(200 * time.Second) }
	again, err := store.ConfirmCount("order-1")
	require.NoError(t, err)
	assert.True(t, again.Dismissed)
	assert.Equal(t, OutcomeConfirmed, again.Outcome)
}

func TestFlagIncorrect(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Open("order-1", time.Now())
	require.NoError(t, err)

	window, err := store.FlagIncorrect("order-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisputed, window.Outcome)

	// A later confirm cannot overwrite the dispute.
	again, err := store.ConfirmCount("order-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisputed, again.Outcome)
}

func TestExpiredWindowCannotBeDismissed(t *testing.T) {
	store := newTestStore(t)
	opened := time.Now()

	_, err := store.Open("order-1", opened)
	require.NoError(t, err)

	store.Now = func() time.Time { return opened.Add(3*time.Minute + time.Second) }
	_, err = store.ConfirmCount("order-1")
	assert.True(t, errors.Is(err, apperr.ErrWindowClosed))
}

func TestDismissUnknownOrder(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ConfirmCount("order-9")
	assert.True(t, errors.Is(err, apperr.ErrWindowClosed))
}

// The expiry survives a process restart because it is persisted, not derived
// from page-load time.
func TestWindowSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardrail.db")
	verifiedAt := time.Now()

	store, err := NewStore(path, 3*time.Minute)
	require.NoError(t, err)
	first, err := store.Open("order-1", verifiedAt)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path, 3*time.Minute)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Get("order-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ExpiresAt.Unix(), got.ExpiresAt.Unix())
}
