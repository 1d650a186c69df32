// Package report renders a finished run for the command line: a JSON file
// holding the full report, a plain text report per provider in the
// dashboard's export layout, and a coloured progress printer.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

const ruleWidth = 50

// WriteJSON writes rep to path as indented JSON, creating parent directories.
func WriteJSON(path string, rep *run.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// apiEntry is one provider's share of a vendor action outcome.
type apiEntry struct {
	name   string
	result types.APIResult
}

// view is the slice of a report that belongs to one provider.
type view struct {
	raw      []types.Outcome
	http     []types.Outcome
	api      []apiEntry
	failures []types.Outcome
	blocked  []types.Outcome
	passed   int

	// byCategory counts passed and total probes per category.
	byCategory map[types.Category]*tally
}

type tally struct{ passed, total int }

func (v *view) count(c types.Category, ok bool) {
	if c == "" {
		return
	}
	if v.byCategory == nil {
		v.byCategory = make(map[types.Category]*tally)
	}
	t := v.byCategory[c]
	if t == nil {
		t = &tally{}
		v.byCategory[c] = t
	}
	t.total++
	if ok {
		t.passed++
	}
}

func (v view) total() int { return len(v.http) + len(v.api) }

func (v view) apiPassed() int {
	n := 0
	for _, e := range v.api {
		if e.result.Success {
			n++
		}
	}
	return n
}

// averageMs is the mean duration of HTTP probes that got a response.
func (v view) averageMs() int64 {
	var sum int64
	n := int64(0)
	for _, o := range v.http {
		if o.Status == 0 {
			continue
		}
		sum += o.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

func providerView(rep *run.Report, providerID string) view {
	var v view
	for _, o := range rep.Results {
		if o.IsAPITest {
			for _, r := range o.APIResults {
				if r.ProviderID != providerID {
					continue
				}
				v.raw = append(v.raw, o)
				v.api = append(v.api, apiEntry{name: o.EndpointName, result: r})
				v.count(o.Category, r.Success)
				if r.Success {
					v.passed++
				}
			}
			continue
		}
		if o.ProviderID != providerID {
			continue
		}
		v.raw = append(v.raw, o)
		v.http = append(v.http, o)
		v.count(o.Category, o.Success || o.BlockedBySecurity)
		switch {
		case o.BlockedBySecurity:
			v.blocked = append(v.blocked, o)
			v.passed++
		case o.Success:
			v.passed++
		default:
			v.failures = append(v.failures, o)
		}
	}
	return v
}

// Text writes the text report for provider p. Only outcomes that belong to
// p are included: its HTTP probes and the vendor actions that carry a
// result for it.
func Text(w io.Writer, rep *run.Report, p types.Provider, generated time.Time) error {
	v := providerView(rep, p.ID)
	name := p.Name
	if name == "" {
		name = p.ID
	}

	var b strings.Builder
	b.WriteString("CDN Functionality Test Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Test Origin: %s\n", p.OriginURL)
	if len(p.Hosts) > 0 {
		fmt.Fprintf(&b, "Test Domain: %s\n", p.Hosts[0])
	}
	fmt.Fprintf(&b, "CDN Provider: %s\n", name)
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID)
	if rep.Cancelled {
		fmt.Fprintf(&b, "Cancelled: %d/%d probes completed\n", rep.Completed, rep.Total)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "%s Results: %d/%d passed\n", name, v.passed, v.total())
	fmt.Fprintf(&b, "Security Blocked: %d (✅ This is GOOD - WAF working!)\n", len(v.blocked))
	fmt.Fprintf(&b, "Failed Tests: %d\n", len(v.failures))

	if len(v.byCategory) > 0 {
		b.WriteString("\nBY CATEGORY:\n")
		for _, c := range types.Categories {
			if t, ok := v.byCategory[c]; ok {
				fmt.Fprintf(&b, "%s: %d/%d passed\n", c.DisplayName(), t.passed, t.total)
			}
		}
	}

	if len(v.failures) > 0 {
		b.WriteString("\nACTUAL FAILURES:\n")
		for _, o := range v.failures {
			fmt.Fprintf(&b, "❌ %s\n", o.EndpointName)
			fmt.Fprintf(&b, "   URL: %s\n", o.URL)
			fmt.Fprintf(&b, "   Status: %s\n", o.Status)
			if o.Error != "" {
				fmt.Fprintf(&b, "   Error: %s\n", o.Error)
			}
			fmt.Fprintf(&b, "   Duration: %dms\n", o.Duration)
		}
	}

	if len(v.blocked) > 0 {
		b.WriteString("\nSECURITY BLOCKS (Expected & Good):\n")
		for _, o := range v.blocked {
			fmt.Fprintf(&b, "🛡️ %s\n", o.EndpointName)
			fmt.Fprintf(&b, "   Duration: %dms\n", o.Duration)
		}
	}

	if len(v.api) > 0 {
		fmt.Fprintf(&b, "\nAPI Tests: %d/%d passed\n", v.apiPassed(), len(v.api))
		for _, e := range v.api {
			mark := "✅"
			if !e.result.Success {
				mark = "❌"
			}
			detail := "Status: " + e.result.Status.String()
			if e.result.Error != "" {
				detail += " | Error: " + e.result.Error
			}
			fmt.Fprintf(&b, "%s %s (%s)\n", mark, e.name, detail)
		}
	}

	fmt.Fprintf(&b, "\nAverage Response Time: %dms\n", v.averageMs())
	b.WriteString("\n" + strings.Repeat("─", ruleWidth) + "\n")
	b.WriteString("RAW TEST RESULTS (JSON):\n")

	raw := v.raw
	if raw == nil {
		raw = []types.Outcome{}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal results: %w", err)
	}
	b.Write(data)
	b.WriteString("\n")

	_, err = io.WriteString(w, b.String())
	return err
}

// TextAll writes one text report per provider of rep, separated by a blank
// line.
func TextAll(w io.Writer, rep *run.Report, generated time.Time) error {
	for i, p := range rep.Providers {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := Text(w, rep, p, generated); err != nil {
			return err
		}
	}
	return nil
}
