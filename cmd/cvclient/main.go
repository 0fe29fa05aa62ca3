package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/cvclient/internal/adapters/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, version); err != nil {
		fmt.Fprintf(os.Stderr, "cvclient: %v\n", err)
		stop()
		os.Exit(1)
	}
}
