package risk

import (
	"fmt"
	"time"
)

// Policy is the configuration value object handed to order validation and
// risk evaluation. Nothing in the engine reads thresholds from globals.
type Policy struct {
	// MaxPositionSize is the largest quantity, in lots, a single order may carry.
	MaxPositionSize float64 `json:"max_position_size" yaml:"max_position_size"`
	MaxLeverage     float64 `json:"max_leverage" yaml:"max_leverage"`

	// Margin ratio (available / used) thresholds.
	MarginCallThreshold float64 `json:"margin_call_threshold" yaml:"margin_call_threshold"`
	StopOutLevel        float64 `json:"stop_out_level" yaml:"stop_out_level"`

	// Per position unrealized P&L alert levels, in account currency.
	ProfitAlertThreshold float64 `json:"profit_alert_threshold" yaml:"profit_alert_threshold"`
	LossAlertThreshold   float64 `json:"loss_alert_threshold" yaml:"loss_alert_threshold"`

	// AlertCooldown suppresses a repeat alert of the same kind for the same
	// account. Zero disables suppression.
	AlertCooldown time.Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
}

// DefaultPolicy mirrors the thresholds the desk has always run with.
func DefaultPolicy() Policy {
	return Policy{
		MaxPositionSize:      100,
		MaxLeverage:          10,
		MarginCallThreshold:  0.3,
		StopOutLevel:         0.2,
		ProfitAlertThreshold: 1000,
		LossAlertThreshold:   -500,
		AlertCooldown:        5 * time.Minute,
	}
}

// Validate checks the thresholds are coherent.
func (p Policy) Validate() error {
	if p.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive")
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive")
	}
	if p.StopOutLevel < 0 {
		return fmt.Errorf("stop_out_level must not be negative")
	}
	if p.MarginCallThreshold < p.StopOutLevel {
		return fmt.Errorf("margin_call_threshold must be >= stop_out_level")
	}
	if p.ProfitAlertThreshold < 0 {
		return fmt.Errorf("profit_alert_threshold must not be negative")
	}
	if p.LossAlertThreshold > 0 {
		return fmt.Errorf("loss_alert_threshold must not be positive")
	}
	if p.AlertCooldown < 0 {
		return fmt.Errorf("alert_cooldown must not be negative")
	}
	return nil
}
