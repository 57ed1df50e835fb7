package fictora

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// GenerationError is returned when a chat-generation request fails with a
// structured server response. It is distinct from transport errors so callers
// can render the machine-readable payload instead of a generic failure.
type GenerationError struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%d %s): %s", e.Status, e.Code, e.Message)
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Chat Types
// ============================================================================

// Chat is a chat session summary. ID is the legacy numeric identifier kept
// for old deep links; UUID is the canonical durable identifier.
type Chat struct {
	ID                 int64  `json:"id"`
	UUID               string `json:"uuid"`
	CharacterID        int64  `json:"characterId"`
	Title              string `json:"title"`
	LastMessagePreview string `json:"lastMessagePreview,omitempty"`
	Unread             bool   `json:"unread"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID        string `json:"id"`
	ChatUUID  string `json:"chatUuid"`
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// ChatState carries secondary per-chat state (scene, mood, counters).
type ChatState struct {
	SceneID      int64          `json:"sceneId,omitempty"`
	MessageCount int            `json:"messageCount"`
	Mood         string         `json:"mood,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// CreateChatOptions configures Chats.Create. IdempotencyKey, when set, is
// sent as the Idempotency-Key header so a retried submission is recognized
// as the same logical request server-side.
type CreateChatOptions struct {
	CharacterID    int64  `json:"characterId"`
	SceneID        int64  `json:"sceneId,omitempty"`
	Title          string `json:"title,omitempty"`
	IdempotencyKey string `json:"-"`
}

// ============================================================================
// Character Types
// ============================================================================

// Character is a catalog entry.
type Character struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Backstory string   `json:"backstory,omitempty"`
	Traits    []string `json:"traits,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	CreatedAt string   `json:"createdAt"`
}

// ============================================================================
// Preferences Types
// ============================================================================

// Preferences holds per-user settings.
type Preferences struct {
	DisplayName     string   `json:"displayName,omitempty"`
	PreferredTraits []string `json:"preferredTraits,omitempty"`
	Theme           string   `json:"theme,omitempty"`
}

// ModelInfo describes one selectable AI model.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// ============================================================================
// Auth Types
// ============================================================================

// TokenData is the response of a session refresh.
type TokenData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds
}

// PageOptions paginates list endpoints.
type PageOptions struct {
	Limit  int
	Before string
}
