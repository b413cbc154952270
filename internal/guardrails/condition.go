package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// evalEnv is the read-only state shared by every guardrail of one call.
type evalEnv struct {
	ec           *models.EvaluationContext
	doc          map[string]any
	judge        contracts.Judge
	judgeTimeout time.Duration
	detector     contracts.DriftDetector
	warnProceed  bool
}

// conditionResult is the outcome of one condition.
type conditionResult struct {
	Matched bool
	Detail  string
}

// matcher is implemented by the four operator families.
type matcher interface {
	match(ctx context.Context, env *evalEnv, field string, res Resolution) (conditionResult, error)
}

type compiledCondition struct {
	cond    models.Condition
	path    Path
	pathErr error
	m       matcher
}

// compileCondition checks a condition and builds its matcher. A path that
// does not parse is not a ConfigError here: such a condition never matches.
func compileCondition(gid string, idx int, c models.Condition, timing models.Timing) (*compiledCondition, error) {
	field := fmt.Sprintf("trigger.conditions[%d]", idx)
	cc := &compiledCondition{cond: c}

	cc.path, cc.pathErr = ParsePath(c.Field)
	if cc.pathErr == nil && timing == models.TimingOnStart && cc.path.Root() == "output" {
		return nil, &ConfigError{GuardrailID: gid, Field: field + ".field", Reason: "on_start triggers may only reference input"}
	}

	switch c.Operator.Family() {
	case models.FamilyString:
		if c.Value == nil {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: fmt.Sprintf("operator %s requires a value", c.Operator)}
		}
		want := toString(c.Value)
		sm := &stringMatcher{op: c.Operator, want: want}
		if c.Operator == models.OpRegex {
			pattern, ok := c.Value.(string)
			if !ok {
				return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: "regex pattern must be a string"}
			}
			re, err := patterns.compile(pattern)
			if err != nil {
				return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: "invalid regex: " + err.Error()}
			}
			sm.re = re
		}
		cc.m = sm
	case models.FamilyOrdering, models.FamilySize:
		want, ok := toNumber(c.Value)
		if !ok {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: fmt.Sprintf("operator %s requires a numeric value", c.Operator)}
		}
		if c.Operator.Family() == models.FamilySize {
			cc.m = &sizeMatcher{op: c.Operator, want: want}
		} else {
			cc.m = &orderingMatcher{op: c.Operator, want: want}
		}
	case models.FamilyJudge:
		prompt, ok := c.Value.(string)
		if !ok || strings.TrimSpace(prompt) == "" {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: "llm_judge requires a non-empty prompt"}
		}
		cc.m = &judgeMatcher{prompt: prompt}
	case models.FamilyExpression:
		src, ok := c.Value.(string)
		if !ok || strings.TrimSpace(src) == "" {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: "expr requires a non-empty expression"}
		}
		prog, err := programs.compile(src)
		if err != nil {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".value", Reason: "invalid expression: " + err.Error()}
		}
		cc.m = &exprMatcher{program: prog}
	default:
		return nil, &ConfigError{GuardrailID: gid, Field: field + ".operator", Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
	}
	return cc, nil
}

func (cc *compiledCondition) evaluate(ctx context.Context, env *evalEnv) (conditionResult, error) {
	if cc.pathErr != nil {
		return conditionResult{Detail: "invalid field path: " + cc.pathErr.Error()}, nil
	}
	return cc.m.match(ctx, env, cc.cond.Field, Resolve(env.doc, cc.path))
}

// ── String operators ────────────────────────────────────────

// stringMatcher compares the resolved value in its string form. A present
// null has no string form and never matches.
type stringMatcher struct {
	op   models.Operator
	want string
	re   *regexp.Regexp
}

func (m *stringMatcher) match(_ context.Context, _ *evalEnv, _ string, res Resolution) (conditionResult, error) {
	if !res.Found {
		return conditionResult{Detail: "field not found"}, nil
	}
	if res.Value == nil {
		return conditionResult{Detail: "value is null"}, nil
	}
	got := toString(res.Value)
	switch m.op {
	case models.OpContains:
		return conditionResult{Matched: strings.Contains(got, m.want)}, nil
	case models.OpEquals:
		return conditionResult{Matched: got == m.want}, nil
	case models.OpRegex:
		return conditionResult{Matched: m.re.MatchString(got)}, nil
	}
	return conditionResult{}, nil
}

// ── Ordering operators ──────────────────────────────────────

type orderingMatcher struct {
	op   models.Operator
	want float64
}

func (m *orderingMatcher) match(_ context.Context, _ *evalEnv, _ string, res Resolution) (conditionResult, error) {
	if !res.Found {
		return conditionResult{Detail: "field not found"}, nil
	}
	got, ok := toNumber(res.Value)
	if !ok {
		return conditionResult{Detail: "value is not numeric"}, nil
	}
	return conditionResult{Matched: compareNumbers(m.op, got, m.want)}, nil
}

// ── Size operators ──────────────────────────────────────────

type sizeMatcher struct {
	op   models.Operator
	want float64
}

func (m *sizeMatcher) match(_ context.Context, _ *evalEnv, _ string, res Resolution) (conditionResult, error) {
	if !res.Found {
		return conditionResult{Detail: "field not found"}, nil
	}
	n, ok := sizeOf(res.Value)
	if !ok {
		return conditionResult{Detail: "value has no size"}, nil
	}
	return conditionResult{
		Matched: compareNumbers(m.op, float64(n), m.want),
		Detail:  fmt.Sprintf("size %d", n),
	}, nil
}

// ── Expressions ─────────────────────────────────────────────

// exprMatcher runs a boolean expr-lang program. The program sees the
// resolved field as value (nil when missing), found, and the whole
// input and output documents.
type exprMatcher struct {
	program *vm.Program
}

func (m *exprMatcher) match(_ context.Context, env *evalEnv, _ string, res Resolution) (conditionResult, error) {
	vars := exprEnv()
	vars["value"] = res.Value
	vars["found"] = res.Found
	vars["input"] = env.doc["input"]
	vars["output"] = env.doc["output"]

	out, err := expr.Run(m.program, vars)
	if err != nil {
		return conditionResult{Detail: "expression error: " + err.Error()}, nil
	}
	matched, _ := out.(bool)
	return conditionResult{Matched: matched}, nil
}

// exprEnv declares the variables an expression may reference.
func exprEnv() map[string]any {
	return map[string]any{"value": nil, "found": false, "input": nil, "output": nil}
}

func compileExpr(src string) (*vm.Program, error) {
	return expr.Compile(src, expr.Env(exprEnv()), expr.AsBool())
}

// ── LLM judge ───────────────────────────────────────────────

type judgeMatcher struct {
	prompt string
}

func (m *judgeMatcher) match(ctx context.Context, env *evalEnv, field string, res Resolution) (conditionResult, error) {
	payload := res.Value
	if !res.Found {
		payload = res.Ancestor
	}
	verdict, err := env.callJudge(ctx, contracts.JudgeRequest{
		Prompt:  m.prompt,
		Payload: payload,
		Field:   field,
	})
	if err != nil {
		return conditionResult{}, err
	}
	return conditionResult{Matched: verdict.Matched, Detail: verdict.Rationale}, nil
}

// callJudge runs the judge under a per-call timeout. The call is raced
// against ctx so a judge that ignores cancellation cannot hold the caller.
func (env *evalEnv) callJudge(ctx context.Context, req contracts.JudgeRequest) (contracts.JudgeVerdict, error) {
	if env.judge == nil {
		return contracts.JudgeVerdict{}, &DependencyError{Op: "llm_judge", Err: ErrNoJudge}
	}

	callCtx := ctx
	if env.judgeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, env.judgeTimeout)
		defer cancel()
	}

	type reply struct {
		verdict contracts.JudgeVerdict
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		v, err := env.judge.Judge(callCtx, req)
		ch <- reply{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return contracts.JudgeVerdict{}, &DependencyError{Op: "llm_judge", Err: r.err}
		}
		return r.verdict, nil
	case <-callCtx.Done():
		return contracts.JudgeVerdict{}, &DependencyError{Op: "llm_judge", Err: callCtx.Err()}
	}
}
