package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	fictora "github.com/Fictora-AI/Fictora/sdk/golang"
)

// getClient creates an authenticated Fictora client backed by a token store
// seeded from the config file.
func getClient() (*fictora.Client, *fictora.TokenStore) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.AccessToken == "" {
		fmt.Fprintln(os.Stderr, "No access token. Run 'fictora config set auth.access_token <token>' first.")
		os.Exit(1)
	}

	tokens := fictora.NewTokenStore()
	expires := time.Time{}
	if cfg.Auth.TokenExpires != "" {
		if t, err := time.Parse(time.RFC3339, cfg.Auth.TokenExpires); err == nil {
			expires = t
		}
	}
	tokens.Update(cfg.Auth.AccessToken, cfg.Auth.RefreshToken, expires)

	var opts []fictora.ClientOption
	opts = append(opts, fictora.WithTokens(tokens))
	if cfg.Default.BaseURL != "" {
		opts = append(opts, fictora.WithBaseURL(cfg.Default.BaseURL))
	}

	return fictora.NewClient(cfg.Auth.AccessToken, opts...), tokens
}

// openStorage opens the durable on-disk store under the config directory.
// It backs the pending-request ledger so an interrupted 'chats start'
// replays its idempotency key on the next run.
func openStorage() *fictora.BadgerStorage {
	dir, err := configDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to locate config directory: %v\n", err)
		os.Exit(1)
	}
	st, err := fictora.OpenBadgerStorage(fictora.BadgerConfig{
		Path:       filepath.Join(dir, "state"),
		SyncWrites: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open local storage: %v\n", err)
		os.Exit(1)
	}
	return st
}
