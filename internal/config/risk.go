package config

import (
	"fmt"
	"time"
)

type AuditVerbosity string

const (
	AuditViolations AuditVerbosity = "violations"
	AuditAll        AuditVerbosity = "all"
)

type RiskConfig struct {
	SoftLimitRatio        float64        `yaml:"soft_limit_ratio"`        // warn at this share of a hard limit
	ReconcileTolerancePct float64        `yaml:"reconcile_tolerance_pct"` // relative excess treated as slippage
	CriticalEventsToTrip  int            `yaml:"critical_events_to_trip"`
	CriticalEventsWindow  time.Duration  `yaml:"critical_events_window"`
	AuditVerbosity        AuditVerbosity `yaml:"audit_verbosity"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		SoftLimitRatio:        0.8,
		ReconcileTolerancePct: 2.5,
		CriticalEventsToTrip:  3,
		CriticalEventsWindow:  time.Hour,
		AuditVerbosity:        AuditViolations,
	}
}

func (c *RiskConfig) ValidateAndSetup() error {
	d := DefaultRiskConfig()
	if c.SoftLimitRatio <= 0 {
		c.SoftLimitRatio = d.SoftLimitRatio
	}
	if c.CriticalEventsToTrip <= 0 {
		c.CriticalEventsToTrip = d.CriticalEventsToTrip
	}
	if c.CriticalEventsWindow <= 0 {
		c.CriticalEventsWindow = d.CriticalEventsWindow
	}
	if c.AuditVerbosity == "" {
		c.AuditVerbosity = d.AuditVerbosity
	}

	switch {
	case c.SoftLimitRatio >= 1:
		return fmt.Errorf("soft_limit_ratio must be below 1")
	case c.ReconcileTolerancePct < 0:
		return fmt.Errorf("reconcile_tolerance_pct must not be negative")
	case c.AuditVerbosity != AuditViolations && c.AuditVerbosity != AuditAll:
		return fmt.Errorf("unknown audit_verbosity %q", c.AuditVerbosity)
	}
	return nil
}
