package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/agentoven/agentoven/guardrail-engine/internal/catalog"
	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/internal/judge"
	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

type evalOptions struct {
	catalogPath   string
	contextPath   string
	agentID       string
	apply         bool
	color         string
	warnProceed   bool
	judgeProvider string
	judgeEndpoint string
	judgeModel    string
	judgeTimeout  time.Duration
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one step against a catalog",
		Long: `Evaluate a step (an EvaluationContext document, JSON or YAML) against the
guardrails of a catalog file and print the result.

Exits with status 2 when the step would be blocked.

The judge API key is read from GUARDRAIL_JUDGE_API_KEY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.catalogPath, "catalog", "", "catalog file (YAML or JSON)")
	f.StringVar(&opts.contextPath, "context", "", "evaluation context file (JSON or YAML)")
	f.StringVar(&opts.agentID, "agent", "", "agent id (overrides agent_id in the context)")
	f.BoolVar(&opts.apply, "apply", false, "also print the request context with modifications applied")
	f.StringVar(&opts.color, "color", "auto", "colorize JSON output: auto, always, never")
	f.BoolVar(&opts.warnProceed, "warn-proceed", true, "whether warn actions let the step proceed by default")
	f.StringVar(&opts.judgeProvider, "judge-provider", "openai", "LLM judge provider: openai, azure-openai, anthropic, ollama")
	f.StringVar(&opts.judgeEndpoint, "judge-endpoint", "", "LLM judge base URL (enables llm_judge conditions)")
	f.StringVar(&opts.judgeModel, "judge-model", "gpt-4o-mini", "LLM judge model")
	f.DurationVar(&opts.judgeTimeout, "judge-timeout", 10*time.Second, "per-call judge timeout")
	cmd.MarkFlagRequired("catalog")
	cmd.MarkFlagRequired("context")
	return cmd
}

func runEval(cmd *cobra.Command, opts evalOptions) error {
	ctx := cmd.Context()

	f, err := catalog.LoadFile(opts.catalogPath)
	if err != nil {
		return err
	}
	ec, err := loadContext(opts.contextPath)
	if err != nil {
		return err
	}
	if opts.agentID != "" {
		ec.AgentID = opts.agentID
	}
	if ec.AgentID == "" {
		return fmt.Errorf("no agent id: set agent_id in the context or pass --agent")
	}

	s := store.NewMemoryStore("")
	defer s.Close()
	if _, err := catalog.Seed(ctx, s, "", f.Guardrails); err != nil {
		return err
	}

	engineOpts := []guardrails.EngineOption{
		guardrails.WithJudgeTimeout(opts.judgeTimeout),
		guardrails.WithWarnAllowProceed(opts.warnProceed),
	}
	if opts.judgeEndpoint != "" || opts.judgeProvider == judge.ProviderOllama {
		engineOpts = append(engineOpts, guardrails.WithJudge(judge.New(
			judge.WithProvider(opts.judgeProvider),
			judge.WithEndpoint(opts.judgeEndpoint),
			judge.WithModel(opts.judgeModel),
			judge.WithAPIKey(os.Getenv("GUARDRAIL_JUDGE_API_KEY")),
		)))
	}
	svc := guardrails.NewService(guardrails.NewEngine(engineOpts...), s)

	result, err := svc.EvaluateStep(ctx, ec)
	if err != nil {
		return err
	}

	out := map[string]any{"result": result}
	if opts.apply {
		modified, err := guardrails.ApplyModifications(ec.RequestContext, result.Modifications())
		if err != nil {
			return fmt.Errorf("apply modifications: %w", err)
		}
		out["modified_context"] = modified
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	raw = pretty.Pretty(raw)
	w := cmd.OutOrStdout()
	color, err := useColor(opts.color, w)
	if err != nil {
		return err
	}
	if color {
		raw = pretty.Color(raw, nil)
	}
	w.Write(raw)

	if !result.ShouldProceed {
		return ErrBlocked
	}
	return nil
}

// useColor resolves the --color mode. auto colors only a terminal.
func useColor(mode string, w io.Writer) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	}
	return false, fmt.Errorf("invalid --color %q: want auto, always or never", mode)
}

func loadContext(path string) (models.EvaluationContext, error) {
	var ec models.EvaluationContext
	data, err := os.ReadFile(path)
	if err != nil {
		return ec, fmt.Errorf("read context: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return ec, fmt.Errorf("parse context %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return ec, fmt.Errorf("encode context %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, &ec); err != nil {
		return ec, fmt.Errorf("parse context %s: %w", path, err)
	}
	return ec, nil
}
