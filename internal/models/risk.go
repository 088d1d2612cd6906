package models

import "time"

// RiskLevel is the accumulated crisis risk for a user.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels so they can be compared.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// Max returns the higher of two risk levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	if l == "" {
		return RiskNone
	}
	return l
}

// RiskIndicator is one observed risk signal.
type RiskIndicator struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Context   string    `json:"context,omitempty"`
}

// RiskState is the per-user record of risk indicators.
type RiskState struct {
	UserID     string          `json:"user_id"`
	Indicators []RiskIndicator `json:"indicators"`
	RiskLevel  RiskLevel       `json:"risk_level"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clear drops all indicators and resets the level.
func (s *RiskState) Clear() {
	s.Indicators = nil
	s.RiskLevel = RiskNone
}

// Clone returns a deep copy safe to hand out of a store.
func (s RiskState) Clone() RiskState {
	out := s
	if s.Indicators != nil {
		out.Indicators = append([]RiskIndicator(nil), s.Indicators...)
	}
	return out
}
