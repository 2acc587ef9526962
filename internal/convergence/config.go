package convergence

import "time"

// Config bounds a run.
type Config struct {
	MaxIterations           int           `mapstructure:"max-iterations" json:"max_iterations,omitempty"`
	ConvergenceThreshold    float64       `mapstructure:"convergence-threshold" json:"convergence_threshold,omitempty"`
	EscalationThreshold     float64       `mapstructure:"escalation-threshold" json:"escalation_threshold,omitempty"`
	Timeout                 time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	RegenerateEditThreshold int           `mapstructure:"regenerate-edit-threshold" json:"regenerate_edit_threshold,omitempty"`
	PersistLearnings        *bool         `mapstructure:"persist-learnings" json:"persist_learnings,omitempty"`
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	persist := true
	return Config{
		MaxIterations:           5,
		ConvergenceThreshold:    0.8,
		EscalationThreshold:     0.9,
		Timeout:                 2 * time.Minute,
		RegenerateEditThreshold: 2,
		PersistLearnings:        &persist,
	}
}

// Override adjusts the loop for one tenant or run. Nil thresholds keep the base value,
// so a threshold can be overridden down to 0.
type Override struct {
	MaxIterations           int           `mapstructure:"max-iterations" json:"max_iterations,omitempty"`
	ConvergenceThreshold    *float64      `mapstructure:"convergence-threshold" json:"convergence_threshold,omitempty"`
	EscalationThreshold     *float64      `mapstructure:"escalation-threshold" json:"escalation_threshold,omitempty"`
	Timeout                 time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	RegenerateEditThreshold int           `mapstructure:"regenerate-edit-threshold" json:"regenerate_edit_threshold,omitempty"`
	PersistLearnings        *bool         `mapstructure:"persist-learnings" json:"persist_learnings,omitempty"`
}

// Merge overlays the set fields of override on c.
func (c Config) Merge(override *Override) Config {
	if override == nil {
		return c
	}
	if override.MaxIterations > 0 {
		c.MaxIterations = override.MaxIterations
	}
	if override.ConvergenceThreshold != nil {
		c.ConvergenceThreshold = *override.ConvergenceThreshold
	}
	if override.EscalationThreshold != nil {
		c.EscalationThreshold = *override.EscalationThreshold
	}
	if override.Timeout > 0 {
		c.Timeout = override.Timeout
	}
	if override.RegenerateEditThreshold > 0 {
		c.RegenerateEditThreshold = override.RegenerateEditThreshold
	}
	if override.PersistLearnings != nil {
		c.PersistLearnings = override.PersistLearnings
	}
	return c
}

// override turns a service-wide config into an Override. Zero fields keep the defaults.
func (c Config) override() *Override {
	o := &Override{
		MaxIterations:           c.MaxIterations,
		Timeout:                 c.Timeout,
		RegenerateEditThreshold: c.RegenerateEditThreshold,
		PersistLearnings:        c.PersistLearnings,
	}
	if c.ConvergenceThreshold > 0 {
		o.ConvergenceThreshold = &c.ConvergenceThreshold
	}
	if c.EscalationThreshold > 0 {
		o.EscalationThreshold = &c.EscalationThreshold
	}
	return o
}

func (c Config) persist() bool {
	return c.PersistLearnings != nil && *c.PersistLearnings
}
