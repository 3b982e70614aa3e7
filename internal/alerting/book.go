package alerting

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arbwatch/internal/opportunity"
)

// Book is the concurrent-safe registry of alert conditions.
type Book struct {
	mu         sync.RWMutex
	conditions map[string]Condition
	logger     zerolog.Logger
}

// NewBook 构造空的规则簿。
func NewBook(logger zerolog.Logger) *Book {
	return &Book{
		conditions: make(map[string]Condition),
		logger:     logger.With().Str("component", "alert_book").Logger(),
	}
}

// Add stores c, generating an id when empty. An existing id is replaced.
func (b *Book) Add(c Condition) (Condition, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.MinSpreadPercent < 0 || c.MinProfitPotential < 0 || c.MinConfidenceScore < 0 {
		return Condition{}, errors.New("alert thresholds must not be negative")
	}
	if c.MaxRiskTier < opportunity.RiskLow || c.MaxRiskTier > opportunity.RiskHigh {
		return Condition{}, errors.New("invalid max risk tier")
	}
	c.PreferredSources = append([]string(nil), c.PreferredSources...)

	b.mu.Lock()
	b.conditions[c.ID] = c
	b.mu.Unlock()

	b.logger.Info().Str("id", c.ID).Str("name", c.Name).Msg("added alert condition")
	return c, nil
}

// Remove deletes a condition and reports whether it existed.
func (b *Book) Remove(id string) bool {
	b.mu.Lock()
	_, ok := b.conditions[id]
	delete(b.conditions, id)
	b.mu.Unlock()

	if ok {
		b.logger.Info().Str("id", id).Msg("removed alert condition")
	}
	return ok
}

func (b *Book) Get(id string) (Condition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.conditions[id]
	return c, ok
}

// List returns all conditions ordered by name, then id.
func (b *Book) List() []Condition {
	b.mu.RLock()
	out := make([]Condition, 0, len(b.conditions))
	for _, c := range b.conditions {
		out = append(out, c)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conditions)
}

// CheckAlerts evaluates every opportunity against a snapshot of the
// conditions taken on entry and returns every match.
func (b *Book) CheckAlerts(opps []opportunity.Opportunity) []Trigger {
	conditions := b.List()

	var triggers []Trigger
	for _, o := range opps {
		for _, c := range conditions {
			if c.Matches(o) {
				triggers = append(triggers, Trigger{Condition: c, Opportunity: o})
			}
		}
	}
	return triggers
}
