package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Intelligent-Internet/ii-agent/internal/config"
	"github.com/Intelligent-Internet/ii-agent/pkg/plan"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect checkpointed plans",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openPlanStore()
		if err != nil {
			return err
		}
		defer store.Close()

		plans, err := store.List(context.Background())
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			cmd.Println("No plans found")
			return nil
		}

		for _, p := range plans {
			cmd.Printf("%s  [%s]  %s  updated=%s\n",
				p.ID, p.Status, p.Title, p.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var plansShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Print a plan with its steps and status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPlanStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		p, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}

		cmd.Printf("%s  [%s]\n%s\n", p.ID, p.Status, p.Title)
		for _, step := range p.Steps {
			cmd.Printf("  %d. [%s] %s\n", step.Index+1, step.Status, step.Description)
		}

		transitions, err := store.Transitions(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, tr := range transitions {
			cmd.Printf("  %s: %s -> %s\n", tr.At.Format(time.RFC3339), tr.From, tr.To)
		}
		return nil
	},
}

func openPlanStore() (*plan.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return plan.Open(cfg.Plans.DBPath, zerolog.Nop())
}

func init() {
	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansShowCmd)
	rootCmd.AddCommand(plansCmd)
}
