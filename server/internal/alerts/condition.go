package alerts

import (
	"github.com/cdnprobe/cdnprobe/pkg/probe"
	"github.com/cdnprobe/cdnprobe/pkg/score"
)

// issueCondition fires when the provider's pass rate is strictly below
// threshold. The value is the pass rate in [0, 1].
func issueCondition(ps score.ProviderScore, threshold float64) (bool, float64) {
	if ps.Total == 0 {
		return false, 0
	}
	rate := float64(ps.Passed) / float64(ps.Total)
	return ps.Flagged(threshold), rate
}

// certCondition fires for expiring and expired certificates and picks the
// severity: expired is critical, expiring is a warning.
func certCondition(cs *probe.CertStatus) (bool, string) {
	switch cs.Status {
	case probe.CertExpired:
		return true, "critical"
	case probe.CertExpiring:
		return true, "warning"
	default:
		return false, "info"
	}
}
