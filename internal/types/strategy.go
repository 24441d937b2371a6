package types

import (
	"encoding/json"
	"time"
)

type StrategyStatus string

const (
	StrategyStatusActive   StrategyStatus = "active"
	StrategyStatusInactive StrategyStatus = "inactive"
	StrategyStatusPaused   StrategyStatus = "paused"
)

// RuleCondition compares one indicator of one symbol against a threshold.
// Only "price" and "volume" are computed for real; the remaining indicator
// names are accepted but evaluate to a neutral fallback.
type RuleCondition struct {
	Symbol    string  `json:"symbol"`
	Indicator string  `json:"indicator"`
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
}

type RuleAction struct {
	Type     OrderAction `json:"type"`
	Quantity float64     `json:"quantity"`
}

// Seconds is a duration that travels through JSON as a whole number of
// seconds, which is how rule authors write cooldowns.
type Seconds time.Duration

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

// Rule is one conditional leg of a strategy. A rule may not fire again
// before LastExecuted+Cooldown has elapsed.
type Rule struct {
	ID           string        `json:"id"`
	Condition    RuleCondition `json:"condition"`
	Action       RuleAction    `json:"action"`
	Cooldown     Seconds       `json:"cooldown"`
	LastExecuted *time.Time    `json:"last_executed,omitempty"`
}

// ExecutionLog is one append-only entry recording a strategy firing (or a
// failed attempt).
type ExecutionLog struct {
	RuleID     string    `json:"rule_id"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Strategy is an ordered rule list owned by one user. Rules are evaluated
// in order, first match wins.
type Strategy struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Name          string         `json:"name"`
	Rules         []Rule         `json:"rules"`
	Status        StrategyStatus `json:"status"`
	Version       int            `json:"version"`
	ExecutionLogs []ExecutionLog `json:"execution_logs,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
