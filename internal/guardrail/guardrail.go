// Package guardrail keeps the customer-side dispute window that opens the
// moment a handoff is verified. The window state is persisted in a local bbolt
// file keyed by order id, so navigating away and back neither resets nor
// extends it. It is deliberately local to one device and is never synced.
package guardrail

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jayjaytrn/cash-delivery/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

var bucketWindows = []byte("guardrail_windows")

type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDisputed  Outcome = "disputed"
)

type Window struct {
	OrderUUID string    `json:"order_uuid"`
	ExpiresAt time.Time `json:"expires_at"`
	Dismissed bool      `json:"dismissed"`
	Outcome   Outcome   `json:"outcome"`
}

func (w *Window) Remaining(now time.Time) time.Duration {
	d := w.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (w *Window) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

type Store struct {
	db  *bolt.DB
	TTL time.Duration
	Now func() time.Time
}

func NewStore(path string, ttl time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open guardrail state: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWindows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare guardrail bucket: %w", err)
	}

	return &Store{db: db, TTL: ttl, Now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Open starts the window at the verification instant. If a window for the
// order already exists it is returned as-is: re-opening never extends it.
func (s *Store) Open(orderUUID string, verifiedAt time.Time) (Window, error) {
	var window Window
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketWindows)
		if raw := bucket.Get([]byte(orderUUID)); raw != nil {
			return json.Unmarshal(raw, &window)
		}

		window = Window{
			OrderUUID: orderUUID,
			ExpiresAt: verifiedAt.Add(s.TTL),
		}
		raw, err := json.Marshal(window)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(orderUUID), raw)
	})
	if err != nil {
		return Window{}, fmt.Errorf("failed to open guardrail window: %w", err)
	}
	return window, nil
}

func (s *Store) Get(orderUUID string) (Window, bool, error) {
	var window Window
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketWindows).Get([]byte(orderUUID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &window)
	})
	if err != nil {
		return Window{}, false, fmt.Errorf("failed to read guardrail window: %w", err)
	}
	return window, found, nil
}

// ConfirmCount closes the window with a confirmed count. Calling it again
// after the window is dismissed is a no-op returning the closed window.
func (s *Store) ConfirmCount(orderUUID string) (Window, error) {
	return s.dismiss(orderUUID, OutcomeConfirmed)
}

// FlagIncorrect closes the window and hands the order to the dispute flow.
func (s *Store) FlagIncorrect(orderUUID string) (Window, error) {
	return s.dismiss(orderUUID, OutcomeDisputed)
}

func (s *Store) dismiss(orderUUID string, outcome Outcome) (Window, error) {
	var window Window
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketWindows)
		raw := bucket.Get([]byte(orderUUID))
		if raw == nil {
			return apperr.ErrWindowClosed
		}
		if err := json.Unmarshal(raw, &window); err != nil {
			return err
		}
		if window.Dismissed {
			// Already closed; keep the original outcome.
			return nil
		}
		if window.Expired(s.Now()) {
			return apperr.ErrWindowClosed
		}

		window.Dismissed = true
		window.Outcome = outcome
		updated, err := json.Marshal(window)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(orderUUID), updated)
	})
	if err != nil {
		return window, err
	}
	return window, nil
}
