package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/willibrandon/devicealarm/internal/alerts"
	"github.com/willibrandon/devicealarm/internal/logger"
	"github.com/willibrandon/devicealarm/internal/models"
)

// namespace derives ids for catalog entries whose ids are not UUIDs.
var namespace = uuid.MustParse("5b0c7b9e-3f1e-4c55-9a36-8f2d1f6a4c10")

// Writer is the part of the store Import needs.
type Writer interface {
	UpsertDevice(ctx context.Context, d *models.Device) error
	UpsertParameter(ctx context.Context, p *models.Parameter) error
	UpsertRule(ctx context.Context, r *models.Rule) error
}

// ImportReport summarizes an import.
type ImportReport struct {
	Device     models.Device
	Parameters []models.Parameter
	Rules      []models.Rule

	// Warnings lists resources imported with a condition that will not
	// compile or names parameters that will never be bound.
	Warnings []string
}

// ResolveID returns id as a UUID, or a stable UUID derived from it.
func ResolveID(id string) uuid.UUID {
	if u, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
		return u
	}
	return uuid.NewSHA1(namespace, []byte(strings.TrimSpace(id)))
}

// Import upserts the aspect's device, one parameter per distinct parameter
// id and one rule per resource.
func Import(ctx context.Context, aspect *Aspect, w Writer) (*ImportReport, error) {
	if err := aspect.Validate(); err != nil {
		return nil, err
	}

	dp := aspect.DeviceProfile
	report := &ImportReport{
		Device: models.Device{
			ID:          ResolveID(dp.ID),
			Name:        dp.Name,
			Description: dp.Description,
			DeviceType:  dp.Type,
			Inhibit:     dp.Inhibit != 0,
		},
	}

	if err := w.UpsertDevice(ctx, &report.Device); err != nil {
		return nil, fmt.Errorf("import device %q: %w", dp.Name, err)
	}

	params := make(map[uuid.UUID]bool)
	for _, res := range aspect.Resources() {
		param := models.Parameter{
			ID:       ResolveID(res.Parameter.ID),
			DeviceID: report.Device.ID,
			Name:     res.Parameter.Name,
			Unit:     res.Parameter.Unit,
		}
		if !params[param.ID] {
			if err := w.UpsertParameter(ctx, &param); err != nil {
				return nil, fmt.Errorf("import parameter %q: %w", param.Name, err)
			}
			params[param.ID] = true
			report.Parameters = append(report.Parameters, param)
		}

		rule := ruleFromResource(res, param.ID)
		if err := w.UpsertRule(ctx, &rule); err != nil {
			return nil, fmt.Errorf("import rule %q: %w", rule.Name, err)
		}
		report.Rules = append(report.Rules, rule)

		if warning := checkRule(&rule, param.Name); warning != "" {
			report.Warnings = append(report.Warnings, warning)
			logger.Warn("Imported rule will not evaluate cleanly", "rule", rule.Name, "reason", warning)
		}
	}

	logger.Info("Imported aspect",
		"device", report.Device.Name,
		"parameters", len(report.Parameters),
		"rules", len(report.Rules),
	)
	return report, nil
}

func ruleFromResource(res DiagnosticResource, parameterID uuid.UUID) models.Rule {
	rule := models.Rule{
		ID:                ResolveID(res.ID),
		ParameterID:       parameterID,
		Name:              res.Name,
		Description:       res.Description,
		RecommendedAction: res.RecommendedAction,
		Severity:          models.ParseSeverity(res.Severity),
		Priority:          res.Priority,
	}
	if rule.Description == "" {
		rule.Description = res.Message
	}
	if res.Rule != nil {
		if res.Rule.Name != "" {
			rule.Name = res.Rule.Name
		}
		rule.Expression = strings.TrimSpace(res.Rule.Expression)
		rule.ComparisonType = res.Rule.ComparisonType
	}
	return rule
}

// checkRule compiles the rule and reports why it would not evaluate.
func checkRule(rule *models.Rule, parameterName string) string {
	compiled := alerts.Compile(rule)
	if compiled.Err != nil {
		return compiled.Err.Error()
	}
	if compiled.Unconditional() {
		return "rule has no condition and always triggers"
	}
	_, missing := alerts.Bind(compiled.Names, parameterName, 0)
	if len(missing) > 0 {
		return fmt.Sprintf("condition references unbound names %s", strings.Join(missing, ", "))
	}
	return ""
}
