package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/config"
	"github.com/Intelligent-Internet/ii-agent/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var sessionsCleanMaxAgeDays int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage persisted session histories",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openHistoryStore()
		if err != nil {
			return err
		}

		ids, err := store.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			cmd.Println("No sessions found")
			return nil
		}

		for _, id := range ids {
			info, err := store.Info(context.Background(), id)
			if err != nil {
				cmd.Printf("%s  (unreadable: %v)\n", id, err)
				continue
			}
			cmd.Printf("%s  messages=%d  size=%dB  modified=%s\n",
				info.SessionID,
				info.MessageCount,
				info.Size,
				info.LastModified.Format(time.RFC3339),
			)
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the conversation history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistoryStore()
		if err != nil {
			return err
		}

		messages, err := store.Load(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			cmd.Println("Session is empty or does not exist")
			return nil
		}

		for _, msg := range messages {
			if len(msg.ToolCalls) > 0 {
				for _, call := range msg.ToolCalls {
					cmd.Printf("[%s] -> %s(%v)\n", msg.Role, call.Name, call.Input)
				}
				continue
			}
			cmd.Printf("[%s] %s\n", msg.Role, msg.Content)
		}
		return nil
	},
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete session histories older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openHistoryStore()
		if err != nil {
			return err
		}

		maxAge := time.Duration(sessionsCleanMaxAgeDays) * 24 * time.Hour
		janitor := session.NewJanitor(store, nil, maxAge, "", zerolog.Nop())
		deleted, err := janitor.SweepNow(context.Background())
		if err != nil {
			return err
		}

		cmd.Printf("Deleted %d stale session(s)\n", deleted)
		return nil
	},
}

func openHistoryStore() (*session.HistoryStore, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return session.NewHistoryStore(cfg.Sessions.Dir, zerolog.Nop())
}

func init() {
	sessionsCleanCmd.Flags().IntVar(&sessionsCleanMaxAgeDays, "max-age-days", 7, "delete sessions untouched for this many days")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCleanCmd)
	rootCmd.AddCommand(sessionsCmd)
}
