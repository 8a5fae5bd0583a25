// Package main provides the entry point for the vrd CLI tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/vrd/cmd/vrd/commands"
	"github.com/Sumatoshi-tech/vrd/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.NewRootCommand().ExecuteContext(ctx)

	stop()

	if err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "Error: ")
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
