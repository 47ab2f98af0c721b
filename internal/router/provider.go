package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/config"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// CallResult is the outcome of invoking a single provider's API.
type CallResult struct {
	OK        bool
	Provider  string
	Model     string
	Status    int
	Text      string
	Raw       map[string]any
	URL       string
	LatencyMs int64
	Error     string
}

// Caller invokes provider APIs over HTTP, gating each provider group behind
// a circuit breaker (so a provider that starts erroring gets skipped for a
// cooldown window rather than retried every cycle) and one token-bucket rate
// limiter shared by all groups (capping the total outbound request rate).
// Grounded on original_source/azi_rebuild/routing.py's _call_provider_api,
// restructured around github.com/sony/gobreaker and golang.org/x/time/rate
// the way jordigilh-kubernaut wires its outbound clients.
type Caller struct {
	client   *http.Client
	limiter  *rate.Limiter
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCaller constructs a Caller with a shared outbound rate limit of
// ratePerSecond requests/sec (burst equal to the rate, rounded up to 1).
func NewCaller(client *http.Client, ratePerSecond float64) *Caller {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Caller{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

func (c *Caller) breakerFor(group string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[group]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "router:" + group,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	c.breakers[group] = b
	return b
}

// CallProviderAPI replicates _call_provider_api: it tries each candidate URL
// derived from the provider's endpoint in turn, rejects HTML error pages,
// and returns the first successful text extraction.
func (c *Caller) CallProviderAPI(ctx context.Context, group, providerName string, spec config.ProviderSpec, prompt, objective string) CallResult {
	breaker := c.breakerFor(group)
	out, err := breaker.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		res := c.callOnce(ctx, providerName, spec, prompt, objective)
		if !res.OK {
			return res, fmt.Errorf("%s", res.Error)
		}
		return res, nil
	})
	if err != nil {
		if res, ok := out.(CallResult); ok {
			return res
		}
		return CallResult{OK: false, Provider: providerName, Error: err.Error()}
	}
	return out.(CallResult)
}

func (c *Caller) callOnce(ctx context.Context, providerName string, spec config.ProviderSpec, prompt, objective string) CallResult {
	providerType := strings.ToLower(spec.Type)
	if providerType == "" {
		providerType = "api"
	}
	if providerType != "api" && providerType != "zhipu" && providerType != "anthropic" {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("provider_not_supported:%s:%s", providerName, providerType)}
	}
	if !spec.Enabled {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("provider_disabled:%s", providerName)}
	}

	apiKey := strings.TrimSpace(spec.APIKey)
	if spec.APIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(spec.APIKeyEnv)); v != "" {
			apiKey = v
		}
	}
	endpoint := strings.TrimSpace(spec.Endpoint)
	model := strings.TrimSpace(spec.Model)
	if endpoint == "" || model == "" {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("provider_incomplete:%s", providerName)}
	}
	if apiKey == "" {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("provider_key_missing:%s:%s", providerName, spec.APIKeyEnv)}
	}

	if providerType == "anthropic" {
		return callAnthropic(ctx, providerName, spec, apiKey, prompt, objective)
	}

	var errs []string
	for _, url := range candidateURLs(endpoint) {
		started := time.Now()
		isResponses := strings.HasSuffix(url, "/responses")

		var payload map[string]any
		if isResponses {
			payload = map[string]any{
				"model":        model,
				"input":        prompt,
				"instructions": firstNonEmptyStr(objective, "Provide concise structured guidance."),
			}
		} else {
			payload = map[string]any{
				"model": model,
				"messages": []map[string]string{
					{"role": "system", "content": firstNonEmptyStr(objective, "Provide concise structured guidance.")},
					{"role": "user", "content": prompt},
				},
				"temperature": 0.35,
			}
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			errs = append(errs, fmt.Sprintf("marshal@%s:%v", url, err))
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			errs = append(errs, fmt.Sprintf("build_request@%s:%v", url, err))
			continue
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			errs = append(errs, fmt.Sprintf("request@%s:%v", url, err))
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
		resp.Body.Close()
		contentType := resp.Header.Get("Content-Type")

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs = append(errs, fmt.Sprintf("http_%d@%s:%s", resp.StatusCode, url, truncateStr(string(body), 160)))
			continue
		}

		var parsed map[string]any
		_ = json.Unmarshal(body, &parsed)

		outText := strings.TrimSpace(extractText(parsed))
		lowText := strings.ToLower(strings.TrimSpace(firstNonEmptyStr(outText, string(body))))
		if strings.Contains(strings.ToLower(contentType), "text/html") || strings.HasPrefix(lowText, "<!doctype html") || strings.HasPrefix(lowText, "<html") {
			errs = append(errs, fmt.Sprintf("html_response@%s", url))
			continue
		}
		if outText == "" {
			outText = strings.TrimSpace(string(body))
		}
		if outText == "" {
			errs = append(errs, fmt.Sprintf("empty_response@%s", url))
			continue
		}

		return CallResult{
			OK:        true,
			Provider:  providerName,
			Model:     model,
			Status:    resp.StatusCode,
			Text:      outText,
			Raw:       parsed,
			URL:       url,
			LatencyMs: time.Since(started).Milliseconds(),
		}
	}

	return CallResult{OK: false, Provider: providerName, Error: truncateStr(strings.Join(errs, " ; "), 1200)}
}

// candidateURLs replicates _candidate_urls.
func candidateURLs(endpoint string) []string {
	ep := strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		return nil
	}
	if strings.HasSuffix(ep, "/v1/chat/completions") || strings.HasSuffix(ep, "/chat/completions") {
		return []string{ep}
	}
	if strings.HasSuffix(ep, "/v1/responses") || strings.HasSuffix(ep, "/responses") {
		return []string{ep}
	}
	if strings.HasSuffix(ep, "/v1") {
		return []string{ep + "/chat/completions", ep + "/responses"}
	}
	return []string{ep + "/v1/chat/completions", ep + "/v1/responses"}
}

// extractText replicates _extract_text's cascade through the common
// chat-completions and responses-API JSON shapes.
func extractText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		if ch0, ok := choices[0].(map[string]any); ok {
			if msg, ok := ch0["message"].(map[string]any); ok {
				if content, ok := msg["content"].(string); ok && strings.TrimSpace(content) != "" {
					return content
				}
			}
			if txt, ok := ch0["text"].(string); ok && strings.TrimSpace(txt) != "" {
				return txt
			}
		}
	}
	if outputText, ok := payload["output_text"].(string); ok && strings.TrimSpace(outputText) != "" {
		return outputText
	}
	if output, ok := payload["output"].([]any); ok {
		var chunks []string
		for _, item := range output {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			content, ok := obj["content"].([]any)
			if !ok {
				continue
			}
			for _, part := range content {
				partObj, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if txt, ok := partObj["text"].(string); ok && strings.TrimSpace(txt) != "" {
					chunks = append(chunks, txt)
				}
			}
		}
		if len(chunks) > 0 {
			return strings.Join(chunks, "\n")
		}
	}
	for _, key := range []string{"answer", "result", "content", "text"} {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
