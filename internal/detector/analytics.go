package detector

import (
	"time"

	"arbwatch/internal/opportunity"
)

// Summary aggregates a set of opportunities.
type Summary struct {
	TotalOpportunities   int     `json:"total_opportunities"`
	AvgSpreadPercent     float64 `json:"avg_spread"`
	MaxSpreadPercent     float64 `json:"max_spread"`
	TotalProfitPotential float64 `json:"total_profit_potential"`
	AvgConfidence        float64 `json:"avg_confidence"`
	OpportunitiesPerHour float64 `json:"opportunities_per_hour,omitempty"`
}

// Analytics covers the live set and the retention window.
type Analytics struct {
	Current    Summary   `json:"current"`
	Historical Summary   `json:"historical_24h"`
	Detection  Stats     `json:"detection_stats"`
	At         time.Time `json:"timestamp"`
}

// Analytics summarises the live set and history still inside the retention window.
func (e *Engine) Analytics() Analytics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	cutoff := now.Add(-e.opts.Retention)
	var recent []opportunity.Opportunity
	for _, h := range e.history {
		if h.Timestamp.After(cutoff) {
			recent = append(recent, h)
		}
	}

	historical := summarise(recent)
	historical.OpportunitiesPerHour = float64(len(recent)) / e.opts.Retention.Hours()

	return Analytics{
		Current:    summarise(e.live),
		Historical: historical,
		Detection:  e.statsLocked(),
		At:         now,
	}
}

func summarise(opps []opportunity.Opportunity) Summary {
	s := Summary{TotalOpportunities: len(opps)}
	if len(opps) == 0 {
		return s
	}
	var spreadSum, confSum float64
	for _, o := range opps {
		spreadSum += o.SpreadPercent
		confSum += o.ConfidenceScore
		s.TotalProfitPotential += o.ProfitPotential
		s.MaxSpreadPercent = max(s.MaxSpreadPercent, o.SpreadPercent)
	}
	n := float64(len(opps))
	s.AvgSpreadPercent = spreadSum / n
	s.AvgConfidence = confSum / n
	return s
}
