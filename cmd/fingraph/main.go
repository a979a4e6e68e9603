// Command fingraph extracts entities and relationships from financial
// news with LLM batch jobs and loads them into a property graph.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvettori/fingraph/internal/cli"
	"github.com/mvettori/fingraph/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(version.GetVersion())
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
