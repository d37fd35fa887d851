package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arthur-debert/tomcatd/cmd/tomcatd"
	"github.com/arthur-debert/tomcatd/pkg/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := tomcatd.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = ui.NewRenderer(ui.FormatAuto, os.Stderr).RenderError(err)
		stop()
		os.Exit(1)
	}
}
