// Package cli implements the guardctl commands: offline validation of
// catalog files and evaluation of a single step against a catalog.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrBlocked is returned by eval when the step would be blocked.
var ErrBlocked = errors.New("step blocked by guardrails")

var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

// NewRootCmd builds the guardctl command tree.
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "guardctl",
		Short: "guardctl - validate guardrail catalogs and evaluate steps offline",
		Long: `guardctl works on guardrail catalog files without a running server.

  guardctl validate guardrails.yaml
  guardctl eval --catalog guardrails.yaml --context step.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).Level(level)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newValidateCmd(), newEvalCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print guardctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guardctl %s (commit: %s)\n", Version, GitCommit)
		},
	}
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
