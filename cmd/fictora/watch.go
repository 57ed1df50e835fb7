package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	fictora "github.com/Fictora-AI/Fictora/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Stream a chat's messages live",
	Long: "Subscribe to a chat's change feed and print messages as they\n" +
		"arrive. Reconnects automatically until interrupted with Ctrl-C.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		resolver := fictora.NewResolver(client, nil)
		resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		uuid, err := resolver.Resolve(resolveCtx, args[0], fictora.ResolveOptions{})
		cancel()
		if err != nil {
			return fmt.Errorf("cannot resolve chat id: %w", err)
		}

		feed := client.Feed(&fictora.FeedConfig{AutoReconnect: true})
		if err := feed.Connect(ctx); err != nil {
			return fmt.Errorf("cannot connect to change feed: %w", err)
		}
		defer feed.Disconnect()

		cache := fictora.NewCache()
		syncer := fictora.NewChatSyncer(client, cache, feed, uuid)
		syncer.Start(ctx)
		defer syncer.Stop()

		fmt.Printf("Watching chat %s (Ctrl-C to stop)\n", uuid)

		// The cache is merge-maintained; poll it and print what is new.
		printed := 0
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case <-ticker.C:
				msgs := cache.Messages(uuid)
				for ; printed < len(msgs); printed++ {
					m := msgs[printed]
					fmt.Printf("[%s] %s\n", m.Role, m.Content)
				}
			}
		}
	},
}
