package guardrails

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// ThresholdDetector flags a tool invoked less often than its share of the
// window's total invocations:
//
//	expected  = total * threshold_percent / 100
//	threshold = max(expected, floor)
//	drift     = count < threshold
//
// Below min_total_invocations it never signals. Arithmetic is decimal so
// the audited threshold is exact.
type ThresholdDetector struct{}

var _ contracts.DriftDetector = ThresholdDetector{}

// Detect implements contracts.DriftDetector.
func (ThresholdDetector) Detect(in contracts.DriftInput, rule models.DriftRule) *models.DriftSignal {
	if in.TotalInvocations < rule.MinTotalInvocations {
		return nil
	}

	pct := decimal.NewFromFloat(rule.ThresholdPercent)
	expected := decimal.NewFromInt(in.TotalInvocations).Mul(pct).Div(hundred)
	threshold := decimal.Max(expected, decimal.NewFromFloat(rule.Floor))

	if decimal.NewFromInt(in.ToolInvocationCount).GreaterThanOrEqual(threshold) {
		return nil
	}

	thr, _ := threshold.Round(4).Float64()
	return &models.DriftSignal{
		Reason: fmt.Sprintf("Tool invocation count (%d) is below %s%% threshold (%s)",
			in.ToolInvocationCount, pct.String(), threshold.StringFixed(2)),
		ToolName:            in.ToolName,
		TotalInvocations:    in.TotalInvocations,
		ToolInvocationCount: in.ToolInvocationCount,
		Threshold:           thr,
		ThresholdPercent:    rule.ThresholdPercent,
		MinTotalInvocations: rule.MinTotalInvocations,
	}
}
