package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxa-go/voxa/internal/dotenv"
	redisstore "github.com/voxa-go/voxa/pkg/store/redis"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent turns from the durable store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("redis")
		if addr == "" {
			addr = dotenv.String("VOXA_REDIS_ADDR", "")
		}
		if addr == "" {
			return fmt.Errorf("history requires a Redis store; set --redis or VOXA_REDIS_ADDR")
		}

		store := redisstore.New(addr,
			dotenv.String("VOXA_REDIS_PASSWORD", ""),
			dotenv.Int("VOXA_REDIS_DB", 0),
		)
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := store.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no history")
			return nil
		}

		for _, entry := range entries {
			fmt.Printf("%s  %s\n  > %s\n  < %s\n",
				entry.Timestamp.Format("2006-01-02 15:04:05"),
				entry.SessionID,
				entry.Transcript,
				entry.Response,
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of turns to show")
	rootCmd.AddCommand(historyCmd)
}
