package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	fictora "github.com/Fictora-AI/Fictora/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsStartCmd)
	chatsCmd.AddCommand(chatsSendCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chats, err := client.Chats.List(ctx)
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range chats {
			unread := " "
			if c.Unread {
				unread = "*"
			}
			fmt.Printf("%s %-36s  %s\n", unread, c.UUID, c.Title)
		}
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show one chat and its recent messages",
	Long:  "Show a chat by its UUID or a legacy numeric id.\nLegacy ids are resolved to their canonical UUID first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resolver := fictora.NewResolver(client, nil)
		uuid, err := resolver.Resolve(ctx, args[0], fictora.ResolveOptions{})
		if err != nil {
			return fmt.Errorf("cannot resolve chat id: %w", err)
		}

		chat, err := client.Chats.Get(ctx, uuid)
		if err != nil {
			return err
		}
		fmt.Printf("Chat:  %s\n", chat.Title)
		fmt.Printf("UUID:  %s\n", chat.UUID)
		fmt.Println()

		msgs, err := client.Messages.List(ctx, uuid, nil)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		return nil
	},
}

var chatsStartCmd = &cobra.Command{
	Use:   "start <character-id>",
	Short: "Start a chat with a character",
	Long: "Start a chat with a character by numeric id.\n" +
		"The request intent is recorded locally before submission, so an\n" +
		"interrupted run replays the same idempotency key instead of\n" +
		"creating a duplicate chat.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		characterID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("character id must be numeric: %q", args[0])
		}

		client, _ := getClient()
		st := openStorage()
		defer st.Close()
		ledger := fictora.NewLedger(st, nil)

		// Reuse an interrupted attempt for the same character.
		rec, ok := ledger.Load()
		if !ok || rec.CharacterID != characterID {
			rec, err = ledger.Create(characterID)
			if err != nil {
				return fmt.Errorf("cannot record chat intent: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		chat, err := client.Chats.Create(ctx, &fictora.CreateChatOptions{
			CharacterID:    characterID,
			IdempotencyKey: rec.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		ledger.Clear()

		fmt.Printf("Started chat %s\n", chat.UUID)
		return nil
	},
}

var chatsSendCmd = &cobra.Command{
	Use:   "send <chat-id> <message>",
	Short: "Send a message and print the generated reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		resolver := fictora.NewResolver(client, nil)
		uuid, err := resolver.Resolve(ctx, args[0], fictora.ResolveOptions{})
		if err != nil {
			return fmt.Errorf("cannot resolve chat id: %w", err)
		}

		reply, err := client.Chats.Generate(ctx, uuid, args[1])
		if err != nil {
			var genErr *fictora.GenerationError
			if errors.As(err, &genErr) {
				return fmt.Errorf("generation rejected (%s): %s", genErr.Code, genErr.Message)
			}
			return err
		}
		fmt.Println(reply.Content)
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resolver := fictora.NewResolver(client, nil)
		uuid, err := resolver.Resolve(ctx, args[0], fictora.ResolveOptions{})
		if err != nil {
			return fmt.Errorf("cannot resolve chat id: %w", err)
		}
		if err := client.Chats.Delete(ctx, uuid); err != nil {
			return err
		}
		fmt.Printf("Deleted chat %s\n", uuid)
		return nil
	},
}
