package router

import (
	"context"
	"strings"
	"time"

	"github.com/antigravity-dev/cortex/internal/config"
)

// GeneratedResponse is the result handed back to the brain/worker cycle
// after routing: either a live provider call or the fallback-local stub.
type GeneratedResponse struct {
	Group             string    `json:"group"`
	GeneratedAt       time.Time `json:"generated_at"`
	Summary           string    `json:"summary"`
	NextStep          string    `json:"next_step"`
	Raw               string    `json:"raw"`
	Provider          string    `json:"provider"`
	Model             string    `json:"model"`
	LiveAPI           bool      `json:"live_api"`
	LatencyMs         int64     `json:"latency_ms"`
	EstimatedCostUSD  float64   `json:"estimated_cost_usd"`
	TaskType          TaskType  `json:"task_type"`
	Error             string    `json:"error,omitempty"`
}

// GenerateStructuredResponse replicates generate_structured_response: when
// live calls are enabled it walks the chosen group's provider sequence
// until one succeeds, falling back to the deterministic local stub
// otherwise.
func (c *Caller) GenerateStructuredResponse(ctx context.Context, group, prompt, objective string, llmConfig *config.LLMConfig, taskType TaskType) GeneratedResponse {
	text := strings.TrimSpace(prompt)
	obj := strings.TrimSpace(objective)
	summary := truncateStr(firstNonEmptyStr(obj, text), 220)

	var errs []string
	if llmConfig.APILiveEnabled {
		for _, ref := range llmConfig.ProviderGroups[group] {
			spec, ok := llmConfig.Providers[ref.Name]
			if !ok {
				errs = append(errs, "provider_not_found:"+ref.Name)
				continue
			}
			result := c.CallProviderAPI(ctx, group, ref.Name, spec, text, obj)
			if result.OK {
				generatedSummary := truncateStr(result.Text, 220)
				if generatedSummary == "" {
					generatedSummary = summary
				}
				return GeneratedResponse{
					Group:            group,
					GeneratedAt:      time.Now(),
					Summary:          generatedSummary,
					NextStep:         "Use " + result.Provider + "(" + result.Model + ") to execute: " + truncateStr(generatedSummary, 120),
					Raw:              "[" + result.Provider + ":" + result.Model + "] " + truncateStr(result.Text, 1000),
					Provider:         result.Provider,
					Model:            result.Model,
					LiveAPI:          true,
					LatencyMs:        result.LatencyMs,
					EstimatedCostUSD: EstimateCostUSD(result.Model, text, result.Text),
					TaskType:         taskType,
				}
			}
			errs = append(errs, result.Error)
		}
	}

	return GeneratedResponse{
		Group:       group,
		GeneratedAt: time.Now(),
		Summary:     summary,
		NextStep:    "Use " + group + " to execute: " + truncateStr(summary, 120),
		Raw:         "[" + group + "] " + truncateStr(text, 260),
		Provider:    "fallback-local",
		Model:       "-",
		LiveAPI:     false,
		TaskType:    taskType,
		Error:       truncateStr(strings.Join(errs, "; "), 1000),
	}
}
