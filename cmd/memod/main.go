package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/remotememo/internal/daemon"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	levelFlag := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.NopLogger,
		daemon.Module(daemon.Params{
			ProfileName: profileName,
			LogLevel:    logging.ParseLevel(*levelFlag),
		}),
	)

	app.Run()
}
