package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ofo-tools/treecrown/cmd"
	"github.com/ofo-tools/treecrown/internal/buildinfo"
	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := &buildinfo.Context{Version: version, BuildDate: buildDate}
	settings := &conf.Settings{}

	rootCmd := cmd.RootCommand(settings, build)
	err := rootCmd.ExecuteContext(ctx)

	telemetry.Flush(telemetry.DefaultFlushTimeout)
	if cerr := logger.Global().Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", cerr)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "treecrown: %s error: %v\n", errorCategory(err), err)
		return 1
	}
	return 0
}

// errorCategory names the category of err for the exit message. Plain
// errors from cobra flag parsing count as argument errors.
func errorCategory(err error) errors.ErrorCategory {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return errors.CategoryOf(err)
	}
	return errors.CategoryArgument
}
