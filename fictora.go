// Package fictora provides the official Go SDK for the Fictora chat API.
//
// Covers chat sessions, messages, the character catalog, user preferences,
// and the realtime change feed that keeps a local read cache current.
//
// Example:
//
//	tokens := fictora.NewTokenStore()
//	client := fictora.NewClient("", fictora.WithTokens(tokens))
//
//	chats, _ := client.Chats.List(ctx)
//	msg, _ := client.Chats.Generate(ctx, chats[0].UUID, "Hello!")
//
//	feed := client.Feed(&fictora.FeedConfig{})
//	_ = feed.Connect(ctx)
package fictora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://app.fictora.ai"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	log        *slog.Logger

	Auth        *AuthClient
	Chats       *ChatsClient
	Messages    *MessagesClient
	Characters  *CharactersClient
	Preferences *PreferencesClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithTokens attaches a shared token store. When set, every request reads its
// bearer credential from the store instead of the static token, so a refresh
// is visible to all in-flight code paths immediately.
func WithTokens(ts *TokenStore) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Fictora client.
// token is optional; pass "" when a TokenStore is attached via WithTokens.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	c.Auth = &AuthClient{client: c}
	c.Chats = &ChatsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Characters = &CharactersClient{client: c}
	c.Preferences = &PreferencesClient{client: c}
	return c
}

// SetToken sets or updates the static auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Tokens returns the attached token store, or nil.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// bearer returns the credential for the next request: the token store's
// current access token when one is attached and populated, else the static
// token.
func (c *Client) bearer() string {
	if c.tokens != nil {
		if rec := c.tokens.Get(); rec.AccessToken != "" {
			return rec.AccessToken
		}
	}
	return c.token
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string, headers map[string]string) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// do performs a request and decodes the standard envelope. Envelope errors
// are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string, headers map[string]string) (*Result, error) {
	_, data, err := c.doRequest(ctx, method, path, body, query, headers)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[Result](data)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request not ok")
	}
	return result, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Before != "" {
		q["before"] = opts.Before
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles session refresh against the managed auth backend.
type AuthClient struct{ client *Client }

// Refresh exchanges the current refresh token for a fresh token pair.
// The token store, when attached, is NOT updated here; callers (normally
// the SessionMonitor) decide what to do with the result.
func (a *AuthClient) Refresh(ctx context.Context) (*TokenData, error) {
	refresh := ""
	if a.client.tokens != nil {
		refresh = a.client.tokens.Get().RefreshToken
	}
	if refresh == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	result, err := a.client.do(ctx, "POST", "/api/auth/refresh", map[string]string{"refreshToken": refresh}, nil, nil)
	if err != nil {
		return nil, err
	}
	var td TokenData
	if err := result.Decode(&td); err != nil {
		return nil, fmt.Errorf("failed to decode token data: %w", err)
	}
	return &td, nil
}

// ============================================================================
// Chats
// ============================================================================

// ChatsClient manages chat sessions.
type ChatsClient struct{ client *Client }

func (ch *ChatsClient) List(ctx context.Context) ([]Chat, error) {
	result, err := ch.client.do(ctx, "GET", "/api/chats", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var chats []Chat
	if err := result.Decode(&chats); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}
	return chats, nil
}

// Get fetches one chat by canonical UUID or legacy numeric id.
func (ch *ChatsClient) Get(ctx context.Context, chatID string) (*Chat, error) {
	result, err := ch.client.do(ctx, "GET", "/api/chats/"+chatID, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := result.Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	return &chat, nil
}

// Create starts a new chat. When opts.IdempotencyKey is set a duplicate
// submission with the same key returns the already-created chat.
func (ch *ChatsClient) Create(ctx context.Context, opts *CreateChatOptions) (*Chat, error) {
	if opts == nil || opts.CharacterID == 0 {
		return nil, fmt.Errorf("characterId is required")
	}
	var headers map[string]string
	if opts.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": opts.IdempotencyKey}
	}
	result, err := ch.client.do(ctx, "POST", "/api/chats", opts, nil, headers)
	if err != nil {
		return nil, err
	}
	var chat Chat
	if err := result.Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	return &chat, nil
}

func (ch *ChatsClient) Delete(ctx context.Context, chatID string) error {
	_, err := ch.client.do(ctx, "DELETE", "/api/chats/"+chatID, nil, nil, nil)
	return err
}

func (ch *ChatsClient) State(ctx context.Context, chatID string) (*ChatState, error) {
	result, err := ch.client.do(ctx, "GET", "/api/chats/"+chatID+"/state", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var state ChatState
	if err := result.Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode chat state: %w", err)
	}
	return &state, nil
}

func (ch *ChatsClient) SetState(ctx context.Context, chatID string, state *ChatState) error {
	_, err := ch.client.do(ctx, "PUT", "/api/chats/"+chatID+"/state", state, nil, nil)
	return err
}

// Generate asks the assistant to produce the next message in a chat.
// Structured server-side failures are returned as *GenerationError so the
// caller can show the specific reason (moderation, quota, model errors)
// rather than a generic failure.
func (ch *ChatsClient) Generate(ctx context.Context, chatID, content string) (*Message, error) {
	status, data, err := ch.client.doRequest(ctx, "POST", "/api/chats/"+chatID+"/generate",
		map[string]string{"content": content}, nil, nil)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if status >= 400 || !result.OK {
		ge := &GenerationError{Status: status, Payload: data}
		if result.Error != nil {
			ge.Code = result.Error.Code
			ge.Message = result.Error.Message
		} else {
			ge.Code = "GENERATION_FAILED"
			ge.Message = http.StatusText(status)
		}
		return nil, ge
	}

	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles per-chat message history.
type MessagesClient struct{ client *Client }

func (m *MessagesClient) List(ctx context.Context, chatID string, opts *PageOptions) ([]Message, error) {
	result, err := m.client.do(ctx, "GET", "/api/chats/"+chatID+"/messages", nil, pageQuery(opts), nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := result.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

func (m *MessagesClient) Send(ctx context.Context, chatID, content string) (*Message, error) {
	result, err := m.client.do(ctx, "POST", "/api/chats/"+chatID+"/messages",
		map[string]string{"content": content, "role": "user"}, nil, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Characters
// ============================================================================

// CharactersClient serves the character catalog.
type CharactersClient struct{ client *Client }

func (cc *CharactersClient) List(ctx context.Context) ([]Character, error) {
	result, err := cc.client.do(ctx, "GET", "/api/characters", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var chars []Character
	if err := result.Decode(&chars); err != nil {
		return nil, fmt.Errorf("failed to decode characters: %w", err)
	}
	return chars, nil
}

func (cc *CharactersClient) DefaultAvatars(ctx context.Context) ([]string, error) {
	result, err := cc.client.do(ctx, "GET", "/api/characters/default-avatars", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var avatars []string
	if err := result.Decode(&avatars); err != nil {
		return nil, fmt.Errorf("failed to decode avatars: %w", err)
	}
	return avatars, nil
}

// ============================================================================
// Preferences
// ============================================================================

// PreferencesClient manages user settings and model selection.
type PreferencesClient struct{ client *Client }

func (p *PreferencesClient) Get(ctx context.Context) (*Preferences, error) {
	result, err := p.client.do(ctx, "GET", "/api/preferences", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var prefs Preferences
	if err := result.Decode(&prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return &prefs, nil
}

func (p *PreferencesClient) Update(ctx context.Context, prefs *Preferences) error {
	_, err := p.client.do(ctx, "PUT", "/api/preferences", prefs, nil, nil)
	return err
}

func (p *PreferencesClient) AIModel(ctx context.Context) (string, error) {
	result, err := p.client.do(ctx, "GET", "/api/preferences/ai-model", nil, nil, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Model string `json:"model"`
	}
	if err := result.Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode model: %w", err)
	}
	return out.Model, nil
}

func (p *PreferencesClient) SetAIModel(ctx context.Context, model string) error {
	_, err := p.client.do(ctx, "PUT", "/api/preferences/ai-model", map[string]string{"model": model}, nil, nil)
	return err
}

func (p *PreferencesClient) AvailableModels(ctx context.Context) ([]ModelInfo, error) {
	result, err := p.client.do(ctx, "GET", "/api/preferences/available-models", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var models []ModelInfo
	if err := result.Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	return models, nil
}
