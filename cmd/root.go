package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/rodentwatch/cmd/prune"
	"github.com/tphakala/rodentwatch/cmd/realtime"
	"github.com/tphakala/rodentwatch/cmd/search"
	"github.com/tphakala/rodentwatch/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rodentwatch",
		Short: "Rodent detection alerting and record keeping",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		realtime.Command(settings),
		prune.Command(settings),
		search.Command(settings),
	)

	return rootCmd
}

// setupFlags defines global flags and binds them to viper so command line
// arguments take precedence over the config file.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().Float64VarP(&settings.Detection.ConfidenceThreshold, "threshold", "t", viper.GetFloat64("detection.confidencethreshold"), "Confidence threshold for detections, value between 0.0 and 1.0")
	rootCmd.PersistentFlags().DurationVar(&settings.Alerts.Cooldown, "cooldown", viper.GetDuration("alerts.cooldown"), "Minimum interval between alerts for the same cooldown key")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
