package identity

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/forgeq/forgeq/core/infra/schema"
)

// Plan is a named subscription tier.
type Plan string

const (
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanTeam         Plan = "team"
)

// Unlimited is the TasksPerMonth sentinel for plans without a quota ceiling.
const Unlimited = -1

// PlanLimits defines the quota ceiling and token-bucket parameters of a tier.
// Immutable configuration, loaded once at startup.
type PlanLimits struct {
	TasksPerMonth int     `yaml:"tasks_per_month" json:"tasks_per_month"`
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int     `yaml:"burst" json:"burst"`
}

//go:embed plans_schema.json
var plansSchema []byte

// DefaultPlans returns the built-in tier table.
func DefaultPlans() map[Plan]PlanLimits {
	return map[Plan]PlanLimits{
		PlanStarter:      {TasksPerMonth: 20, RatePerSecond: 0.03, Burst: 2},
		PlanProfessional: {TasksPerMonth: 100, RatePerSecond: 0.1, Burst: 5},
		PlanTeam:         {TasksPerMonth: Unlimited, RatePerSecond: 0.5, Burst: 20},
	}
}

// LoadPlans reads the tier table from a YAML file, validated against the
// embedded schema. A missing file falls back to the defaults so a bare
// checkout still runs.
func LoadPlans(path string) (map[Plan]PlanLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPlans(), nil
		}
		return nil, fmt.Errorf("read plans config: %w", err)
	}
	return ParsePlans(data)
}

// ParsePlans decodes and validates a YAML tier table.
func ParsePlans(data []byte) (map[Plan]PlanLimits, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plans config: %w", err)
	}
	if err := schema.ValidateSchema("plans", plansSchema, normalizeYAML(raw)); err != nil {
		return nil, err
	}

	var decoded map[Plan]PlanLimits
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse plans config: %w", err)
	}
	plans := DefaultPlans()
	for name, limits := range decoded {
		plans[name] = limits
	}
	return plans, nil
}

// Limits resolves a plan's parameters, falling back to the lowest tier for
// unknown plan names so a stale identity record still gets rate limited.
func Limits(plans map[Plan]PlanLimits, plan Plan) PlanLimits {
	if limits, ok := plans[plan]; ok {
		return limits
	}
	return plans[PlanStarter]
}

// normalizeYAML rewrites yaml.v3's map[string]any values into JSON-compatible
// shapes the schema validator accepts.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
