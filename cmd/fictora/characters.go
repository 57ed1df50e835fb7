package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	fictora "github.com/Fictora-AI/Fictora/sdk/golang"
	"github.com/spf13/cobra"
)

var (
	charactersSearchQuery string
	charactersTrait       string
	recommendTraits       string
)

func init() {
	rootCmd.AddCommand(charactersCmd)
	charactersCmd.AddCommand(charactersListCmd)
	charactersCmd.AddCommand(charactersRecommendCmd)

	charactersListCmd.Flags().StringVar(&charactersSearchQuery, "search", "", "filter by substring match on name, backstory and traits")
	charactersListCmd.Flags().StringVar(&charactersTrait, "trait", "", "filter by an exact trait")
	charactersRecommendCmd.Flags().StringVar(&recommendTraits, "traits", "", "comma-separated preferred traits")
}

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "Browse the character catalog",
}

var charactersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List characters, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		catalog, err := client.Characters.List(ctx)
		if err != nil {
			return err
		}

		switch {
		case charactersSearchQuery != "":
			catalog = fictora.Search(catalog, charactersSearchQuery)
		case charactersTrait != "":
			catalog = fictora.ByTrait(catalog, charactersTrait)
		default:
			catalog = fictora.ByNewest(catalog)
		}

		printCharacters(catalog)
		return nil
	},
}

var charactersRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Show personalized character recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		catalog, err := client.Characters.List(ctx)
		if err != nil {
			return err
		}

		sig := fictora.Signal{}
		if recommendTraits != "" {
			for _, t := range strings.Split(recommendTraits, ",") {
				if t = strings.TrimSpace(t); t != "" {
					sig.PreferredTraits = append(sig.PreferredTraits, t)
				}
			}
		} else if prefs, err := client.Preferences.Get(ctx); err == nil {
			sig.PreferredTraits = prefs.PreferredTraits
		}

		scored := fictora.Recommend(catalog, sig, 0.05, time.Now())
		for _, s := range scored {
			fmt.Printf("%6.2f  %-24s  %s\n", s.Score, s.Character.Name, strings.Join(s.Character.Traits, ", "))
		}
		return nil
	},
}

func printCharacters(catalog []fictora.Character) {
	if len(catalog) == 0 {
		fmt.Println("No characters.")
		return
	}
	for _, c := range catalog {
		fmt.Printf("%-6d  %-24s  %s\n", c.ID, c.Name, strings.Join(c.Traits, ", "))
	}
}
