package worker

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/cortex/internal/store"
)

var dreamReplayEventTypes = []string{
	"input", "iteration", "deep_request", "dream_request",
	"web_probe", "file_feed", "vscode_observer", "social", "device_capture",
}

// composeDreamReplay replicates _compose_dream_replay: it weaves the most
// recent input-flow events into a single reordered narrative fragment,
// favoring the source that appears most often in the sampled window.
func composeDreamReplay(st *store.Store, seed string, limit int) (string, error) {
	n := limit
	if n < 3 {
		n = 3
	}
	if n > 20 {
		n = 20
	}

	rows, err := st.RecentEventsByTypes(dreamReplayEventTypes, n)
	if err != nil {
		return "", fmt.Errorf("worker: compose dream replay: %w", err)
	}
	if len(rows) == 0 {
		return "Dream replay: input flow is quiet; keep stable rhythm and wait for higher-value signals.", nil
	}

	sourceCount := map[string]int{}
	merged := make([]string, 0, len(rows))
	for _, row := range rows {
		source := row.Source
		if source == "" {
			source = "unknown"
		}
		sourceCount[source]++
		eventType := row.EventType
		if eventType == "" {
			eventType = "-"
		}
		content := strings.TrimSpace(strings.ReplaceAll(row.Content, "\n", " "))
		merged = append(merged, fmt.Sprintf("%s/%s:%s", source, eventType, truncateStr(content, 36)))
	}

	focusSource, best := "", -1
	for src, n := range sourceCount {
		if n > best {
			best, focusSource = n, src
		}
	}

	tail := merged
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	weave := strings.Join(tail, " | ")

	seedText := truncateStr(strings.TrimSpace(strings.ReplaceAll(seed, "\n", " ")), 80)
	seedPart := ""
	if seedText != "" {
		seedPart = fmt.Sprintf(", trigger=%s", seedText)
	}
	return fmt.Sprintf("Dream replay focus `%s`%s. Reordered fragments: %s", focusSource, seedPart, weave), nil
}

func truncateStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
