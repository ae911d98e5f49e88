// Package search implements a query command over stored detection records.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/datastore"
	"github.com/tphakala/rodentwatch/internal/errors"
)

// Command creates the search command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		species string
		source  string
		outcome string
		status  string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query stored detection records",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := datastore.SearchFilter{
				Species:        species,
				SourceID:       source,
				Outcome:        outcome,
				DeliveryStatus: status,
				Limit:          limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return run(settings, filter)
		},
	}

	cmd.Flags().StringVar(&species, "species", "", "Filter by species label")
	cmd.Flags().StringVar(&source, "source", "", "Filter by source id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by decision outcome (ALERT or SUPPRESSED)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by delivery status (PENDING, SENT, FAILED or EXHAUSTED)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this duration, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records to print")
	return cmd
}

func run(settings *conf.Settings, filter datastore.SearchFilter) error {
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output enabled in configuration").
			Component("search").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := store.Search(ctx, filter)
	if err != nil {
		return err
	}

	for i := range records {
		r := &records[i]
		fmt.Printf("%s  %-12s  %.2f  %-10s  %-10s  %s\n",
			r.DetectedAt.Format("2006-01-02 15:04:05"),
			r.Species, r.Confidence, r.Outcome, r.SourceID, r.RecordID)
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}
