package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	Long:  "Display the current configuration, check token expiry, and fetch live account preferences.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		fmt.Printf("  User ID:  %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.AccessToken == "" {
			fmt.Println("  Token: (not set)")
			return nil
		}
		fmt.Printf("  Token: %s\n", maskToken(cfg.Auth.AccessToken))

		client, tokens := getClient()
		if tokens.IsExpired() {
			fmt.Println("  State: expired or within refresh margin")
		} else {
			fmt.Printf("  State: valid (%s remaining)\n", tokens.TimeUntilExpiry().Round(time.Second))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		prefs, err := client.Preferences.Get(ctx)
		if err != nil {
			fmt.Printf("  Live check failed: %v\n", err)
			return nil
		}
		fmt.Println()
		fmt.Println("Account:")
		fmt.Printf("  Display Name: %s\n", valueOrDefault(prefs.DisplayName, "(not set)"))
		fmt.Printf("  Theme:        %s\n", valueOrDefault(prefs.Theme, "(default)"))
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "..."
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
