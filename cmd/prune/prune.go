// Package prune implements a one-shot retention pass over the detection
// database.
package prune

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/errors"
)

// Command creates the prune command.
func Command(settings *conf.Settings) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete detection records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				days = settings.Retention.Days
			}
			return run(settings, days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Override the configured retention window in days")
	return cmd
}

func run(settings *conf.Settings, days int) error {
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled in configuration").
			Component("prune").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := store.Prune(ctx, cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("Pruned records older than %s:\n", cutoff.Format("2006-01-02"))
	fmt.Printf("  records deleted:  %d\n", result.RecordsDeleted)
	fmt.Printf("  attempts deleted: %d\n", result.AttemptsDeleted)
	fmt.Printf("  evidence deleted: %d\n", result.EvidenceDeleted)
	if result.EvidenceErrors > 0 {
		fmt.Printf("  evidence errors:  %d\n", result.EvidenceErrors)
	}
	return nil
}
