package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

var (
	passColor  = color.New(color.FgGreen)
	blockColor = color.New(color.FgCyan)
	failColor  = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	headColor  = color.New(color.Bold)
)

// Printer is a run.Publisher that writes one line per event.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	names map[string]string
}

// NewPrinter returns a Printer writing to w. providers maps ids to the
// display names used in progress lines.
func NewPrinter(w io.Writer, providers []types.Provider) *Printer {
	names := make(map[string]string, len(providers)+1)
	for _, p := range providers {
		names[p.ID] = p.Name
	}
	names[types.ProviderAPI] = "API"
	return &Printer{w: w, names: names}
}

func (p *Printer) name(id string) string {
	if n := p.names[id]; n != "" {
		return n
	}
	return id
}

// Publish implements run.Publisher.
func (p *Printer) Publish(ev run.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case run.EventStarted:
		headColor.Fprintf(p.w, "run %s: %d probes\n", ev.RunID, ev.Started.Total)
	case run.EventProgress:
		p.progress(ev.Progress)
	case run.EventRound:
		fmt.Fprintf(p.w, "round %d done (%d/%d)\n", ev.Round.Round, ev.Round.Completed, ev.Round.Total)
	case run.EventComplete:
		p.summary(ev.Report)
	case run.EventCancelled:
		warnColor.Fprintf(p.w, "run cancelled after %d/%d probes\n", ev.Report.Completed, ev.Report.Total)
		p.summary(ev.Report)
	case run.EventError:
		failColor.Fprintf(p.w, "error: %s\n", ev.Err.Error)
	}
}

func (p *Printer) progress(pr *run.Progress) {
	if pr == nil || pr.Result == nil {
		return
	}
	o := pr.Result
	fmt.Fprintf(p.w, "[%*d/%d] ", digits(pr.Total), pr.Completed, pr.Total)

	if o.IsAPITest {
		ok := 0
		for _, r := range o.APIResults {
			if r.Success {
				ok++
			}
		}
		c := passColor
		if ok < len(o.APIResults) {
			c = failColor
		}
		c.Fprintf(p.w, "%-8s", "API")
		fmt.Fprintf(p.w, " %-10s %s  %d/%d providers\n", p.name(o.ProviderID), o.EndpointName, ok, len(o.APIResults))
		return
	}

	switch {
	case o.BlockedBySecurity:
		blockColor.Fprintf(p.w, "%-8s", "BLOCKED")
	case o.Success:
		passColor.Fprintf(p.w, "%-8s", "PASS")
	default:
		failColor.Fprintf(p.w, "%-8s", "FAIL")
	}
	fmt.Fprintf(p.w, " %-10s %s  %s  %dms", p.name(o.ProviderID), o.EndpointName, o.Status, o.Duration)
	if o.Error != "" {
		fmt.Fprintf(p.w, "  %s", o.Error)
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) summary(rep *run.Report) {
	if rep == nil {
		return
	}
	headColor.Fprintln(p.w, "summary")
	for _, s := range rep.Summary.Providers {
		c := passColor
		if s.Flagged(rep.Summary.Threshold) {
			c = failColor
		}
		c.Fprintf(p.w, "  %-10s %d/%d passed (%.0f%%)\n", s.Name, s.Passed, s.Total, s.PassRate*100)
	}
	for _, issue := range rep.Summary.Issues {
		warnColor.Fprintf(p.w, "  ! %s\n", issue)
	}
	fmt.Fprintf(p.w, "  duration %s, average response %.0fms\n", rep.Duration().Round(time.Millisecond), rep.AverageDuration())
}

func digits(n int) int {
	d := 1
	for n >= 10 {
		n /= 10
		d++
	}
	return d
}
