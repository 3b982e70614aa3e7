package opportunity

import (
	"fmt"
	"strings"
)

// RiskTier orders opportunities by how wide (and therefore how suspicious) the gap is.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMediumLow
	RiskMedium
	RiskMediumHigh
	RiskHigh
)

var riskNames = [...]string{"low", "medium-low", "medium", "medium-high", "high"}

func (r RiskTier) String() string {
	if r < RiskLow || r > RiskHigh {
		return fmt.Sprintf("RiskTier(%d)", int(r))
	}
	return riskNames[r]
}

// ParseRiskTier accepts the lowercase tier names, with "_" allowed in place of "-".
func ParseRiskTier(s string) (RiskTier, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, n := range riskNames {
		if n == name {
			return RiskTier(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk tier %q", s)
}

func (r RiskTier) MarshalText() ([]byte, error) {
	if r < RiskLow || r > RiskHigh {
		return nil, fmt.Errorf("invalid risk tier %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *RiskTier) UnmarshalText(text []byte) error {
	tier, err := ParseRiskTier(string(text))
	if err != nil {
		return err
	}
	*r = tier
	return nil
}
