package fictora

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// pendingStorageKey is the single Ledger slot: a new request overwrites the
// prior one, so at most one intent is live at a time.
const pendingStorageKey = "fictora/pending-chat"

// PendingChatRequest records the intent to start a chat before the server
// has confirmed it, e.g. while the user is still logging in. The idempotency
// key is replayed on Chats.Create so a duplicate submission cannot create
// two chats.
type PendingChatRequest struct {
	CharacterID    int64  `json:"characterId"`
	IdempotencyKey string `json:"idempotencyKey"`
	StartedAt      int64  `json:"startedAt"` // epoch ms
}

// Ledger persists one pending chat request in a Storage slot.
type Ledger struct {
	storage Storage
	log     *slog.Logger
}

// NewLedger creates a ledger over st. Pass a session-scoped store
// (MemoryStorage) when intent must not resurrect in a later session.
func NewLedger(st Storage, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{storage: st, log: log}
}

// Create generates an idempotency key, persists the request, and returns it,
// overwriting any prior record.
func (l *Ledger) Create(characterID int64) (PendingChatRequest, error) {
	rec := PendingChatRequest{
		CharacterID:    characterID,
		IdempotencyKey: newIdempotencyKey(),
		StartedAt:      time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return PendingChatRequest{}, fmt.Errorf("failed to marshal pending request: %w", err)
	}
	if err := l.storage.Set(pendingStorageKey, string(data)); err != nil {
		return PendingChatRequest{}, fmt.Errorf("failed to persist pending request: %w", err)
	}
	return rec, nil
}

// Load returns the stored request, or ok=false when the slot is empty or
// holds something malformed. A corrupted or foreign value must never crash
// the caller, so decode failures are treated as absent.
func (l *Ledger) Load() (PendingChatRequest, bool) {
	raw, ok, err := l.storage.Get(pendingStorageKey)
	if err != nil {
		l.log.Warn("pending ledger: read failed", "err", err)
		return PendingChatRequest{}, false
	}
	if !ok {
		return PendingChatRequest{}, false
	}

	// Strict shape check: pointer fields distinguish absent from zero, and
	// unmarshal rejects wrong-typed values.
	var probe struct {
		CharacterID    *int64  `json:"characterId"`
		IdempotencyKey *string `json:"idempotencyKey"`
		StartedAt      *int64  `json:"startedAt"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return PendingChatRequest{}, false
	}
	if probe.CharacterID == nil || probe.IdempotencyKey == nil || probe.StartedAt == nil || *probe.IdempotencyKey == "" {
		return PendingChatRequest{}, false
	}
	return PendingChatRequest{
		CharacterID:    *probe.CharacterID,
		IdempotencyKey: *probe.IdempotencyKey,
		StartedAt:      *probe.StartedAt,
	}, true
}

// Clear removes the record. Storage errors are logged and swallowed.
func (l *Ledger) Clear() {
	if err := l.storage.Delete(pendingStorageKey); err != nil {
		l.log.Warn("pending ledger: delete failed", "err", err)
	}
}

// newIdempotencyKey prefers a crypto-backed random UUID; when the generator
// fails it falls back to a time+random composite. The fallback is
// best-effort uniqueness for request dedup, not a security token.
func newIdempotencyKey() string {
	if u, err := uuid.NewRandom(); err == nil {
		return u.String()
	}
	return fmt.Sprintf("%d-%06x", time.Now().UnixMilli(), rand.Intn(1<<24))
}
