package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/antigravity-dev/cortex/internal/config"
)

// callAnthropic is the concrete provider binding for provider type
// "anthropic": it skips the generic HTTP/JSON-path extraction in
// callOnce and talks to the Messages API through the official SDK
// directly, the one provider type backed by a real client rather than
// a hand-rolled endpoint guess.
func callAnthropic(ctx context.Context, providerName string, spec config.ProviderSpec, apiKey, prompt, objective string) CallResult {
	started := time.Now()
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	system := firstNonEmptyStr(objective, "Provide concise structured guidance.")
	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(spec.Model),
		MaxTokens: 1024,
		System:    anthropic.F(system),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("anthropic_error:%s:%v", providerName, err)}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return CallResult{OK: false, Provider: providerName, Error: fmt.Sprintf("empty_response:%s", providerName)}
	}

	return CallResult{
		OK:        true,
		Provider:  providerName,
		Model:     spec.Model,
		Status:    200,
		Text:      out,
		URL:       "anthropic-sdk-go://messages",
		LatencyMs: time.Since(started).Milliseconds(),
	}
}
