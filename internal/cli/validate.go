package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentoven/agentoven/guardrail-engine/internal/catalog"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog>...",
		Short: "Validate one or more guardrail catalog files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		f, err := catalog.LoadFile(path)
		if err != nil {
			failed++
			var verr *catalog.ValidationError
			if errors.As(err, &verr) {
				printf(out, "✗ %s: %d problem(s)\n", path, len(verr.Problems))
				for _, p := range verr.Problems {
					printf(out, "    - %s\n", p)
				}
				continue
			}
			printf(out, "✗ %s: %v\n", path, err)
			continue
		}
		printf(out, "✓ %s: %d guardrail(s)\n", path, len(f.Guardrails))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d catalog(s) invalid", failed, len(args))
	}
	return nil
}
