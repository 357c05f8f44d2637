package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/config"
	"github.com/flowops/driftd/common/logger"
)

// PolicyService decides whether the drift loop auto-creates an incident
// for a tenant and environment, and derives severity and TTL for the
// incidents it raises. Tenant filters are CEL expressions over the
// detection context; compiled programs are cached per expression.
type PolicyService struct {
	policies PolicyStore
	cfg      config.SchedulerConfig
	log      *logger.Logger

	mu       sync.Mutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewPolicyService creates a new auto-incident policy evaluator
func NewPolicyService(policies PolicyStore, cfg config.SchedulerConfig, log *logger.Logger) (*PolicyService, error) {
	env, err := cel.NewEnv(
		cel.Variable("environment_name", cel.StringType),
		cel.Variable("environment_class", cel.StringType),
		cel.Variable("affected_count", cel.IntType),
		cel.Variable("severity", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy environment: %w", err)
	}
	return &PolicyService{
		policies: policies,
		cfg:      cfg,
		env:      env,
		programs: make(map[string]cel.Program),
		log:      log,
	}, nil
}

// SeverityForCount derives incident severity from the number of affected
// workflows.
func SeverityForCount(affected int) models.Severity {
	switch {
	case affected >= 10:
		return models.SeverityCritical
	case affected >= 5:
		return models.SeverityHigh
	case affected >= 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// TTLForSeverity returns the auto-close deadline duration for a severity
func (s *PolicyService) TTLForSeverity(severity models.Severity) time.Duration {
	hours := s.cfg.TTLHoursLow
	switch severity {
	case models.SeverityCritical:
		hours = s.cfg.TTLHoursCritical
	case models.SeverityHigh:
		hours = s.cfg.TTLHoursHigh
	case models.SeverityMedium:
		hours = s.cfg.TTLHoursMedium
	}
	return time.Duration(hours) * time.Hour
}

// ShouldAutoCreate reports whether the tenant's policy allows raising an
// incident for this detection result. A policy row missing or disabled
// means no; a filter that fails to compile or evaluate fails open so a
// broken expression never silences detection.
func (s *PolicyService) ShouldAutoCreate(ctx context.Context, env *models.Environment, affected int, severity models.Severity) (bool, error) {
	policy, err := s.policies.GetAutoIncidentPolicy(ctx, env.TenantID)
	if err != nil {
		return false, fmt.Errorf("failed to load auto-incident policy: %w", err)
	}
	if policy == nil || !policy.Enabled {
		return false, nil
	}
	if policy.ProductionOnly && env.Class != models.ClassProduction {
		return false, nil
	}
	if policy.Filter == "" {
		return true, nil
	}

	program, err := s.program(policy.Filter)
	if err != nil {
		s.log.Warn("auto-incident filter does not compile, allowing",
			"tenant_id", env.TenantID, "error", err)
		return true, nil
	}

	out, _, err := program.Eval(map[string]interface{}{
		"environment_name":  env.Name,
		"environment_class": string(env.Class),
		"affected_count":    int64(affected),
		"severity":          string(severity),
	})
	if err != nil {
		s.log.Warn("auto-incident filter evaluation failed, allowing",
			"tenant_id", env.TenantID, "error", err)
		return true, nil
	}

	matched, ok := out.Value().(bool)
	if !ok {
		s.log.Warn("auto-incident filter is not boolean, allowing",
			"tenant_id", env.TenantID, "filter", policy.Filter)
		return true, nil
	}
	return matched, nil
}

func (s *PolicyService) program(expression string) (cel.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if program, ok := s.programs[expression]; ok {
		return program, nil
	}

	ast, issues := s.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, err
	}
	s.programs[expression] = program
	return program, nil
}
