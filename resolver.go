package fictora

import (
	"context"
	"log/slog"
	"sync"
)

// Navigator updates the consumer's current location without adding a history
// entry. A CLI or test can satisfy it with a func value; a UI shell maps it
// onto its routing layer.
type Navigator interface {
	Replace(path string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Replace(path string) { f(path) }

// ResolveOptions tunes a single Resolve call.
type ResolveOptions struct {
	// Redirect rewrites the current location to the canonical chat path
	// after a successful legacy-id resolution. At most one rewrite happens
	// per resolved id, no matter how many callers race.
	Redirect bool
}

type resolveResult struct {
	done       chan struct{}
	uuid       string
	err        error
	redirected bool
}

// Resolver maps chat identifiers to their canonical UUID form. Canonical
// identifiers pass through untouched; legacy numeric identifiers are resolved
// via the chats API. Successful resolutions are cached for the resolver's
// lifetime and concurrent lookups of the same id share one fetch. Failed
// lookups are not cached, so a later call retries.
type Resolver struct {
	chats *ChatsClient
	nav   Navigator
	log   *slog.Logger

	mu      sync.Mutex
	results map[string]*resolveResult
}

// NewResolver creates a resolver. nav may be nil when no caller redirects.
func NewResolver(client *Client, nav Navigator) *Resolver {
	return &Resolver{
		chats:   client.Chats,
		nav:     nav,
		log:     client.log,
		results: make(map[string]*resolveResult),
	}
}

// Resolve returns the canonical UUID for id. Non-numeric identifiers are
// already canonical and return immediately.
func (r *Resolver) Resolve(ctx context.Context, id string, opts ResolveOptions) (string, error) {
	if id == "" || !allDigits(id) {
		return id, nil
	}

	r.mu.Lock()
	res, inflight := r.results[id]
	if !inflight {
		res = &resolveResult{done: make(chan struct{})}
		r.results[id] = res
		r.mu.Unlock()
		r.fetch(ctx, id, res)
	} else {
		r.mu.Unlock()
		select {
		case <-res.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if res.err != nil {
		return "", res.err
	}

	if opts.Redirect && r.nav != nil {
		r.mu.Lock()
		first := !res.redirected
		res.redirected = true
		r.mu.Unlock()
		if first {
			r.nav.Replace("/chat/" + res.uuid)
		}
	}
	return res.uuid, nil
}

func (r *Resolver) fetch(ctx context.Context, id string, res *resolveResult) {
	defer close(res.done)

	chat, err := r.chats.Get(ctx, id)
	if err != nil {
		res.err = err
		// Drop the entry so the next caller retries instead of replaying
		// a transient failure forever.
		r.mu.Lock()
		delete(r.results, id)
		r.mu.Unlock()
		r.log.Warn("chat id resolution failed", "id", id, "err", err)
		return
	}
	res.uuid = chat.UUID
	r.log.Debug("resolved legacy chat id", "id", id, "uuid", chat.UUID)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
