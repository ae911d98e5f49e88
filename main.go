package main

import (
	"fmt"
	"os"

	"github.com/tphakala/rodentwatch/cmd"
	"github.com/tphakala/rodentwatch/internal/conf"
	"github.com/tphakala/rodentwatch/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var closeLog func() error
	if settings.Main.Log.Enabled {
		closeLog, err = logging.EnableFileLogging(settings.Main.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
	}

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.Execute()
	if closeLog != nil {
		_ = closeLog()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
