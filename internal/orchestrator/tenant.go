package orchestrator

import (
	"slices"
	"time"

	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/escalation"
	"github.com/spigell/recruiter-loop/internal/model"
)

// AutoApproval controls unattended approval of effectful tasks.
type AutoApproval struct {
	Enabled   bool             `mapstructure:"enabled" json:"enabled"`
	Threshold float64          `mapstructure:"threshold" json:"threshold"`
	MaxDaily  int              `mapstructure:"max-daily" json:"max_daily"`
	Rules     []model.TaskType `mapstructure:"rules" json:"rules,omitempty"`

	// Bypass makes every effectful type eligible without a per-type rule.
	Bypass bool `mapstructure:"bypass" json:"bypass"`
}

func (a AutoApproval) eligible(t model.TaskType) bool {
	return a.Enabled && (a.Bypass || slices.Contains(a.Rules, t))
}

// TenantConfig is the per-tenant routing policy.
type TenantConfig struct {
	AutonomyLevel       escalation.Autonomy   `mapstructure:"autonomy-level" json:"autonomy_level"`
	AutoApproval        AutoApproval          `mapstructure:"auto-approval" json:"auto_approval"`
	EscalationOverrides []model.TaskType      `mapstructure:"escalation-overrides" json:"escalation_overrides,omitempty"`
	Channels            []model.Channel       `mapstructure:"channels" json:"channels,omitempty"`
	ApprovalTTL         time.Duration         `mapstructure:"approval-ttl" json:"approval_ttl,omitempty"`
	Loop                *convergence.Override `mapstructure:"loop" json:"loop,omitempty"`
}

// Policy returns the view the escalation decider needs.
func (c TenantConfig) Policy() escalation.TenantPolicy {
	return escalation.TenantPolicy{
		Autonomy:  c.AutonomyLevel,
		Overrides: c.EscalationOverrides,
		Channels:  c.Channels,
	}
}

func (c TenantConfig) ttl() time.Duration {
	if c.ApprovalTTL > 0 {
		return c.ApprovalTTL
	}
	return DefaultApprovalTTL
}

// Tenants maps tenant ids to their configuration.
type Tenants map[string]TenantConfig

// DefaultTenant is used for tenants without explicit configuration: balanced autonomy and no auto-approval.
var DefaultTenant = TenantConfig{
	AutonomyLevel: escalation.AutonomyBalanced,
	Channels:      []model.Channel{model.ChannelDashboard},
}

// Get returns the tenant config or DefaultTenant.
func (t Tenants) Get(tenantID string) TenantConfig {
	if c, ok := t[tenantID]; ok {
		return c
	}
	return DefaultTenant
}
