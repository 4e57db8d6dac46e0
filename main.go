// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/draagonlabs/evoforge/cmd"
)

// main is the entry point for the evoforge CLI. Commands run under a context
// cancelled by SIGINT/SIGTERM so evolution jobs shut down cooperatively and
// keep their best partial results.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
