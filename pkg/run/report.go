package run

import (
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/score"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// Report is the result of one run. Results are in probe completion order.
type Report struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Config    Request          `json:"config"`
	Providers []types.Provider `json:"providers"`
	Endpoints []types.Endpoint `json:"endpoints"`

	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Results   []types.Outcome `json:"results"`
	Cancelled bool            `json:"cancelled,omitempty"`

	Summary score.Summary `json:"summary"`
	Matrix  score.Matrix  `json:"matrix"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AverageDuration is the mean probe duration in milliseconds over HTTP
// outcomes that received a response.
func (r *Report) AverageDuration() float64 {
	var sum int64
	n := 0
	for _, o := range r.Results {
		if o.IsAPITest || o.Status == 0 {
			continue
		}
		sum += o.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// finish scores the accumulated results against the plan.
func (r *Report) finish(plan Plan, threshold float64, now time.Time) {
	r.FinishedAt = now
	r.Completed = len(r.Results)
	r.Summary = score.Compute(r.Results, plan.Providers, plan.Endpoints, threshold)
	r.Matrix = score.BuildMatrix(r.Results, plan.Providers, plan.Endpoints)
}
