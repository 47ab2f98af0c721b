package router

import (
	"testing"

	"github.com/antigravity-dev/cortex/internal/config"
)

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		ProviderGroups: map[string][]config.ProviderRef{
			"deep_chain":    {{Name: "deep-1"}},
			"medium_chain":  {{Name: "medium-1"}},
			"shallow_chain": {{Name: "shallow-1"}},
			"coder_chain":   {{Name: "coder-1"}},
		},
		Providers: map[string]config.ProviderSpec{},
	}
}

func TestInferTaskTypeCascade(t *testing.T) {
	cases := []struct {
		name string
		ctx  RouteContext
		want TaskType
	}{
		{"dream event", RouteContext{EventType: "dream_request"}, TaskDream},
		{"dream action", RouteContext{Action: "escalate_dream"}, TaskDream},
		{"deep event", RouteContext{EventType: "iteration"}, TaskDeepReflection},
		{"coding signal", RouteContext{Prompt: "fix the traceback in test_foo.py"}, TaskCoding},
		{"risk control", RouteContext{RiskLevel: "high"}, TaskRiskControl},
		{"shallow reaction", RouteContext{Action: "stabilize", Prompt: "short"}, TaskShallowReaction},
		{"analysis default", RouteContext{}, TaskAnalysis},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := InferTaskType(c.ctx)
			if got != c.want {
				t.Fatalf("expected %s, got %s", c.want, got)
			}
		})
	}
}

func TestRouteCandidatesForTaskHonorsCustomPreference(t *testing.T) {
	cfg := testLLMConfig()
	cfg.RoutingPolicy.TaskPreferences = map[string][]string{"analysis": {"coder_chain"}}
	candidates := RouteCandidatesForTask(TaskAnalysis, cfg)
	if candidates[0] != "coder_chain" {
		t.Fatalf("expected coder_chain first, got %v", candidates)
	}
}

func TestRouteCandidatesForTaskNoGroupsFallsBack(t *testing.T) {
	cfg := &config.LLMConfig{}
	candidates := RouteCandidatesForTask(TaskAnalysis, cfg)
	if len(candidates) != 1 || candidates[0] != "fallback-local" {
		t.Fatalf("expected fallback-local, got %v", candidates)
	}
}

func TestGroupScoreRewardsSuccessAndPenalizesFallback(t *testing.T) {
	good := GroupScore(GroupMetrics{Total: 10, Success: 10, LatencyMsEMA: 500, CostUSDEMA: 0.001})
	bad := GroupScore(GroupMetrics{Total: 10, Success: 2, LatencyMsEMA: 9000, CostUSDEMA: 0.02, FallbackRatio: 1.0})
	if good <= bad {
		t.Fatalf("expected good score > bad score, got %v vs %v", good, bad)
	}
}

func TestChooseProviderGroupForcesDeepOnHighRisk(t *testing.T) {
	cfg := testLLMConfig()
	decision := ChooseProviderGroup(RouteContext{RiskLevel: "high"}, cfg, Orchestration{})
	if decision.Group != "deep_chain" {
		t.Fatalf("expected deep_chain, got %s", decision.Group)
	}
	if decision.Reason != "risk_high_force_deep" {
		t.Fatalf("expected forced reason, got %s", decision.Reason)
	}
}

func TestEstimateCostUSDMatchesTier(t *testing.T) {
	cost := EstimateCostUSD("claude-opus-4", "hello world", "a response")
	if cost <= 0 {
		t.Fatalf("expected positive cost, got %v", cost)
	}
	cheap := EstimateCostUSD("unknown-model", "hello world", "a response")
	expensive := EstimateCostUSD("claude-opus-4", "hello world", "a response")
	if expensive <= cheap {
		t.Fatalf("expected claude-opus to cost more than default tier, got %v vs %v", expensive, cheap)
	}
}

func TestCandidateURLs(t *testing.T) {
	urls := candidateURLs("https://api.example.com/v1")
	if len(urls) != 2 {
		t.Fatalf("expected 2 candidate urls, got %v", urls)
	}

	urls = candidateURLs("https://api.example.com/v1/chat/completions")
	if len(urls) != 1 || urls[0] != "https://api.example.com/v1/chat/completions" {
		t.Fatalf("expected single passthrough url, got %v", urls)
	}
}

func TestExtractTextFromChatCompletionsShape(t *testing.T) {
	payload := map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{"content": "hello there"},
			},
		},
	}
	if got := extractText(payload); got != "hello there" {
		t.Fatalf("expected extracted text, got %q", got)
	}
}
