package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// formatter renders the JSON body posted to one kind of webhook.
type formatter func(a *Alert) any

var formatters = map[string]formatter{
	"slack": slackBody,
	"teams": teamsBody,
	"http":  httpBody,
}

// deliver posts a to every configured webhook. Failures are logged only.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		target := wh.URL()
		if target == "" {
			slog.Debug("alerts: webhook url not set, skipping", "type", wh.Type, "env", wh.URLEnv)
			continue
		}
		format, ok := formatters[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		log := slog.With("type", wh.Type, "rule", a.Rule, "provider", a.ProviderID, "state", a.State)
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := e.postJSON(ctx, target, format(a))
		cancel()
		if err != nil {
			log.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered")
	}
}

func (e *Engine) postJSON(ctx context.Context, target string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %s", resp.Status)
	}
	return nil
}

func slackBody(a *Alert) any {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* ", strings.ToUpper(a.Severity))
	if a.State == StateResolved {
		b.WriteString("resolved: ")
	}
	b.WriteString(a.Message)
	if a.RunID != "" {
		fmt.Fprintf(&b, " (run `%s`)", a.RunID)
	}
	return map[string]string{"text": b.String()}
}

// teamsBody builds a legacy Office 365 connector MessageCard.
func teamsBody(a *Alert) any {
	facts := []map[string]string{
		{"name": "Provider", "value": a.ProviderID},
		{"name": "Rule", "value": a.Rule},
		{"name": "State", "value": a.State},
	}
	if a.RunID != "" {
		facts = append(facts, map[string]string{"name": "Run", "value": a.RunID})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"themeColor": cardColor(a),
		"summary":    a.Message,
		"title":      fmt.Sprintf("cdnprobe: %s on %s", a.Rule, a.ProviderID),
		"sections": []map[string]any{
			{"text": a.Message, "facts": facts},
		},
	}
}

func httpBody(a *Alert) any {
	return struct {
		Source string `json:"source"`
		Alert  *Alert `json:"alert"`
	}{Source: "cdnprobe", Alert: a}
}

func cardColor(a *Alert) string {
	switch {
	case a.State == StateResolved:
		return "2EB67D"
	case a.Severity == "critical":
		return "E01E5A"
	default:
		return "ECB22E"
	}
}
