package fictora

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// expiryMargin is subtracted from the token lifetime so callers refresh
// before a request is rejected mid-flight.
const expiryMargin = 5 * time.Minute

// tokenStorageKey is the Storage slot used by persistent token stores.
const tokenStorageKey = "fictora/token"

// TokenRecord is the current access/refresh token pair. ExpiresAt is the
// zero time whenever AccessToken is empty.
type TokenRecord struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// TokenStore is the single shared holder of the session credential.
// Construct one at application start and hand it to every code path that
// issues requests (via WithTokens); updates are immediately visible to all
// readers.
type TokenStore struct {
	mu      sync.RWMutex
	rec     TokenRecord
	storage Storage
	log     *slog.Logger

	now func() time.Time // test hook
}

// NewTokenStore creates an in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{log: slog.Default(), now: time.Now}
}

// NewPersistentTokenStore creates a token store that loads its record from
// st at construction and writes through on every update. A malformed or
// absent stored record starts the store empty; it is never an error.
func NewPersistentTokenStore(st Storage, log *slog.Logger) *TokenStore {
	if log == nil {
		log = slog.Default()
	}
	ts := &TokenStore{storage: st, log: log, now: time.Now}

	raw, ok, err := st.Get(tokenStorageKey)
	if err != nil {
		log.Warn("token store: read failed, starting empty", "err", err)
		return ts
	}
	if !ok {
		return ts
	}
	var rec TokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.AccessToken == "" {
		return ts
	}
	ts.rec = rec
	return ts
}

// Get returns a copy of the current record.
func (ts *TokenStore) Get() TokenRecord {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.rec
}

// Update replaces the stored token pair. An empty access token is
// equivalent to Clear.
func (ts *TokenStore) Update(access, refresh string, expiresAt time.Time) {
	if access == "" {
		ts.Clear()
		return
	}
	ts.mu.Lock()
	ts.rec = TokenRecord{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}
	ts.persistLocked()
	ts.mu.Unlock()
}

// Clear wipes the record, resetting expiry to the zero time.
func (ts *TokenStore) Clear() {
	ts.mu.Lock()
	ts.rec = TokenRecord{}
	if ts.storage != nil {
		if err := ts.storage.Delete(tokenStorageKey); err != nil {
			ts.log.Warn("token store: delete failed", "err", err)
		}
	}
	ts.mu.Unlock()
}

// IsExpired reports whether the access token is absent or within the
// safety margin of its expiry.
func (ts *TokenStore) IsExpired() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.rec.AccessToken == "" {
		return true
	}
	return !ts.now().Before(ts.rec.ExpiresAt.Add(-expiryMargin))
}

// TimeUntilExpiry returns how long the token remains usable, never negative.
func (ts *TokenStore) TimeUntilExpiry() time.Duration {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if ts.rec.AccessToken == "" {
		return 0
	}
	d := ts.rec.ExpiresAt.Sub(ts.now())
	if d < 0 {
		return 0
	}
	return d
}

func (ts *TokenStore) persistLocked() {
	if ts.storage == nil {
		return
	}
	data, err := json.Marshal(ts.rec)
	if err != nil {
		ts.log.Warn("token store: marshal failed", "err", err)
		return
	}
	if err := ts.storage.Set(tokenStorageKey, string(data)); err != nil {
		ts.log.Warn("token store: write failed", "err", err)
	}
}

// ============================================================================
// Session Recovery Monitor
// ============================================================================

// SessionMonitor revalidates the session when the application regains the
// foreground after a background period. On a successful refresh every
// server-backed cache key is invalidated so all views refetch with the
// fresh credential. On failure the configured hook decides what happens;
// the monitor never forces a logout itself.
type SessionMonitor struct {
	client    *Client
	tokens    *TokenStore
	cache     *Cache
	onFailure func(error)
	log       *slog.Logger
}

// NewSessionMonitor wires a monitor. onFailure may be nil.
func NewSessionMonitor(client *Client, tokens *TokenStore, cache *Cache, onFailure func(error)) *SessionMonitor {
	return &SessionMonitor{
		client:    client,
		tokens:    tokens,
		cache:     cache,
		onFailure: onFailure,
		log:       client.log,
	}
}

// HandleVisible runs one recovery attempt. It is a no-op when no session
// is present.
func (m *SessionMonitor) HandleVisible(ctx context.Context) {
	rec := m.tokens.Get()
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		return
	}

	td, err := m.client.Auth.Refresh(ctx)
	if err != nil {
		m.log.Warn("session refresh failed", "err", err)
		if m.onFailure != nil {
			m.onFailure(err)
		}
		return
	}

	m.tokens.Update(td.AccessToken, td.RefreshToken, time.Now().Add(time.Duration(td.ExpiresIn)*time.Second))
	m.cache.InvalidatePrefix(apiKeyPrefix)
}
