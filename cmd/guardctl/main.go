// guardctl validates guardrail catalogs and evaluates steps offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/agentoven/agentoven/guardrail-engine/internal/cli"
)

func main() {
	_ = godotenv.Load()

	err := cli.NewRootCmd().ExecuteContext(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, cli.ErrBlocked):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
