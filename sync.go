package fictora

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ============================================================================
// Chat list synchronizer
// ============================================================================

// ChatListSyncer keeps a user's chat list fresh. Any pushed change to the
// user's chats (new chat, title edit, deletion) invalidates the cached
// list so the next read refetches; the event payload itself is not trusted
// as a complete view. Reconnection triggers a reconciliation fetch to cover
// changes that happened while detached.
type ChatListSyncer struct {
	client *Client
	cache  *Cache
	userID string
	sub    *Subscription
	log    *slog.Logger
}

// NewChatListSyncer wires a syncer for userID over feed.
func NewChatListSyncer(client *Client, cache *Cache, feed FeedChannel, userID string) *ChatListSyncer {
	s := &ChatListSyncer{
		client: client,
		cache:  cache,
		userID: userID,
		log:    client.log,
	}
	spec := ChannelSpec{
		Channel: "user:" + userID + ":chats",
		Event:   "*",
		Schema:  "public",
		Table:   "chats",
		Filter:  "user_id=eq." + userID,
	}
	s.sub = NewSubscription(feed, spec, SubscribeOptions{
		OnEvent: func(ChangeEvent) {
			s.cache.Invalidate(ChatListKey(s.userID))
		},
		OnActive: func() { s.reconcile(context.Background()) },
		// While the channel is down the cached list may silently drift;
		// mark it stale so reads refetch instead of trusting it.
		OnFailure: func(ChannelStatus) {
			s.cache.Invalidate(ChatListKey(s.userID))
		},
		Logger: s.log,
	})
	return s
}

// Start subscribes and begins syncing.
func (s *ChatListSyncer) Start(ctx context.Context) { s.sub.Start(ctx) }

// Stop releases the channel. No further cache writes happen.
func (s *ChatListSyncer) Stop() { s.sub.Stop() }

// State exposes the underlying subscription state.
func (s *ChatListSyncer) State() SubState { return s.sub.State() }

// HandleVisible marks the list stale after a background period, regardless
// of subscription state. Events may have been missed while suspended.
func (s *ChatListSyncer) HandleVisible() {
	s.cache.Invalidate(ChatListKey(s.userID))
}

// reconcile refetches the list and repopulates the cache. Fetch failures
// leave the entry invalidated so a later read retries.
func (s *ChatListSyncer) reconcile(ctx context.Context) {
	s.cache.Invalidate(ChatListKey(s.userID))
	chats, err := s.client.Chats.List(ctx)
	if err != nil {
		s.log.Warn("chat list reconcile failed", "err", err)
		return
	}
	s.cache.Put(ChatListKey(s.userID), chats)
}

// ============================================================================
// Chat message synchronizer
// ============================================================================

// messageRow is the change-feed row shape for the messages table.
type messageRow struct {
	ID        string `json:"id"`
	ChatUUID  string `json:"chat_uuid"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ChatSyncer keeps one open chat's message sequence fresh. Pushed inserts
// merge directly into the cached sequence (dedup by message id); each insert
// also invalidates the chat's metadata entry since counters and previews
// moved. Reconnection merges a reconciliation fetch over the pushed stream,
// so messages that arrived while detached appear exactly once.
type ChatSyncer struct {
	client   *Client
	cache    *Cache
	chatUUID string
	sub      *Subscription
	log      *slog.Logger
}

// NewChatSyncer wires a syncer for chatUUID over feed.
func NewChatSyncer(client *Client, cache *Cache, feed FeedChannel, chatUUID string) *ChatSyncer {
	s := &ChatSyncer{
		client:   client,
		cache:    cache,
		chatUUID: chatUUID,
		log:      client.log,
	}
	spec := ChannelSpec{
		Channel: "chat:" + chatUUID + ":messages",
		Event:   "INSERT",
		Schema:  "public",
		Table:   "messages",
		Filter:  "chat_uuid=eq." + chatUUID,
	}
	s.sub = NewSubscription(feed, spec, SubscribeOptions{
		OnEvent:  s.handleInsert,
		OnActive: func() { s.reconcile(context.Background()) },
		OnFailure: func(ChannelStatus) {
			s.cache.Invalidate(ChatKey(s.chatUUID))
		},
		Logger: s.log,
	})
	return s
}

// Start subscribes and begins syncing.
func (s *ChatSyncer) Start(ctx context.Context) { s.sub.Start(ctx) }

// Stop releases the channel. The cached sequence is kept; it converges on
// the next reconcile if the chat is reopened.
func (s *ChatSyncer) Stop() { s.sub.Stop() }

// State exposes the underlying subscription state.
func (s *ChatSyncer) State() SubState { return s.sub.State() }

// HandleVisible marks the chat's metadata stale and reconciles the message
// sequence after a background period, regardless of subscription state.
func (s *ChatSyncer) HandleVisible(ctx context.Context) {
	s.cache.Invalidate(ChatKey(s.chatUUID))
	s.reconcile(ctx)
}

func (s *ChatSyncer) handleInsert(ev ChangeEvent) {
	var row messageRow
	if err := json.Unmarshal(ev.Record, &row); err != nil || row.ID == "" {
		s.log.Warn("chat sync: undecodable message row", "chat", s.chatUUID)
		return
	}
	merged := s.cache.MergeMessage(s.chatUUID, Message{
		ID:        row.ID,
		ChatUUID:  row.ChatUUID,
		Role:      row.Role,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	})
	if merged {
		// Counters and preview on the chat row changed server-side.
		s.cache.Invalidate(ChatKey(s.chatUUID))
	}
}

// reconcile fetches the current message page and merges it over whatever
// the push path already delivered. Dedup makes the overlap harmless.
func (s *ChatSyncer) reconcile(ctx context.Context) {
	msgs, err := s.client.Messages.List(ctx, s.chatUUID, nil)
	if err != nil {
		s.log.Warn("chat sync: reconcile failed", "chat", s.chatUUID, "err", err)
		return
	}
	if n := s.cache.MergeMessages(s.chatUUID, msgs); n > 0 {
		s.cache.Invalidate(ChatKey(s.chatUUID))
	}
}
