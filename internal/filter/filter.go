// Package filter decides whether a deal is eligible for export: the target
// custom field ("Бар (deal)") must equal the configured venue, matched by
// literal text or by enumerated option ID.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nebar/barsync/internal/amocrm"
)

// MatchMode selects how the field text is compared against the target value.
type MatchMode string

const (
	// MatchExact requires strict equality. Production default.
	MatchExact MatchMode = "exact"
	// MatchContains accepts any value containing the target as a substring.
	MatchContains MatchMode = "contains"
)

// ParseMatchMode validates a config string.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case MatchExact, MatchContains:
		return MatchMode(s), nil
	case "":
		return MatchExact, nil
	}
	return "", fmt.Errorf("invalid match mode %q (want exact or contains)", s)
}

// Config is the target rule. FieldID takes precedence; when it is zero the
// field is located by FieldName, then by a case-insensitive substring of
// FallbackLabel (mirrors running without a field configuration).
type Config struct {
	FieldID        int64
	FieldName      string
	FallbackLabel  string
	TargetValue    string
	TargetOptionID int64
	Mode           MatchMode

	// Bypass disables filtering entirely. Debugging escape hatch; an
	// explicit constructor parameter, never read from the environment here.
	Bypass bool

	// StageAllowed optionally restricts eligible stages. Nil means all
	// stages of all pipelines are eligible.
	StageAllowed func(pipelineID, statusID int64) bool
}

// FieldSource lists the account's lead custom field definitions.
type FieldSource interface {
	GetCustomFields(ctx context.Context) ([]amocrm.CustomFieldDef, error)
}

// ResolveField fills in cfg.FieldID and cfg.TargetOptionID from the
// account's field definitions when they are not configured. The field is
// located the same way Matches does: by ID, then by exact name, then by
// the fallback label. Resolved IDs keep matching stable if the field or
// option text is later edited in the CRM.
func ResolveField(ctx context.Context, src FieldSource, cfg Config) (Config, error) {
	if cfg.FieldID != 0 && cfg.TargetOptionID != 0 {
		return cfg, nil
	}

	defs, err := src.GetCustomFields(ctx)
	if err != nil {
		return cfg, fmt.Errorf("list custom fields: %w", err)
	}

	name := cfg.FieldName
	if name == "" {
		name = "Бар (deal)"
	}
	label := cfg.FallbackLabel
	if label == "" {
		label = "бар"
	}

	var def *amocrm.CustomFieldDef
	if cfg.FieldID != 0 {
		for i := range defs {
			if defs[i].ID == cfg.FieldID {
				def = &defs[i]
				break
			}
		}
	}
	if def == nil {
		for i := range defs {
			if defs[i].Name == name {
				def = &defs[i]
				break
			}
		}
	}
	if def == nil {
		for i := range defs {
			if strings.Contains(strings.ToLower(defs[i].Name), strings.ToLower(label)) {
				def = &defs[i]
				break
			}
		}
	}
	if def == nil {
		return cfg, fmt.Errorf("custom field %q not found in account", name)
	}

	cfg.FieldID = def.ID
	cfg.FieldName = def.Name
	if cfg.TargetOptionID == 0 && cfg.TargetValue != "" {
		for _, opt := range def.Enums {
			if opt.Value == cfg.TargetValue {
				cfg.TargetOptionID = opt.ID
				break
			}
		}
	}
	return cfg, nil
}

// Lookups resolves pipeline and stage names for diagnostic logging only;
// it never affects the accept/reject decision.
type Lookups interface {
	PipelineName(id int64) string
	StageName(pipelineID, statusID int64) string
}

// Filter applies the target rule to deals.
type Filter struct {
	cfg     Config
	lookups Lookups
}

// New creates a Filter. lookups may be nil; it only enriches log lines.
func New(cfg Config, lookups Lookups) *Filter {
	if cfg.Mode == "" {
		cfg.Mode = MatchExact
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "Бар (deal)"
	}
	if cfg.FallbackLabel == "" {
		cfg.FallbackLabel = "бар"
	}
	return &Filter{cfg: cfg, lookups: lookups}
}

// Matches reports whether the deal passes the target rule.
func (f *Filter) Matches(deal *amocrm.Deal) bool {
	if f.cfg.Bypass {
		slog.Warn("filter bypass enabled, accepting deal unconditionally", "deal_id", deal.ID)
		return true
	}

	if len(deal.CustomFields) == 0 {
		slog.Debug("deal rejected: no custom fields", "deal_id", deal.ID)
		return false
	}

	field := f.findField(deal.CustomFields)
	if field == nil || len(field.Values) == 0 {
		slog.Debug("deal rejected: target field absent or empty",
			"deal_id", deal.ID, "deal_name", deal.Name)
		return false
	}

	value := field.Values[0]
	if !f.valueMatches(value) {
		slog.Debug("deal rejected: target field mismatch",
			"deal_id", deal.ID,
			"value", value.Text(),
			"enum_id", value.EnumID,
			"want", f.cfg.TargetValue)
		return false
	}

	if f.cfg.StageAllowed != nil && !f.cfg.StageAllowed(deal.PipelineID, deal.StatusID) {
		slog.Debug("deal rejected: stage not in allow-list",
			"deal_id", deal.ID, "pipeline_id", deal.PipelineID, "status_id", deal.StatusID)
		return false
	}

	if f.lookups != nil {
		slog.Info("deal matched target rule",
			"deal_id", deal.ID,
			"value", value.Text(),
			"pipeline", f.lookups.PipelineName(deal.PipelineID),
			"stage", f.lookups.StageName(deal.PipelineID, deal.StatusID))
	}
	return true
}

// findField locates the target field by ID when configured, otherwise by
// exact name, otherwise by the case-insensitive fallback label.
func (f *Filter) findField(fields []amocrm.CustomFieldValue) *amocrm.CustomFieldValue {
	if f.cfg.FieldID != 0 {
		for i := range fields {
			if fields[i].FieldID == f.cfg.FieldID {
				return &fields[i]
			}
		}
	}
	for i := range fields {
		if fields[i].FieldName == f.cfg.FieldName {
			return &fields[i]
		}
	}
	label := strings.ToLower(f.cfg.FallbackLabel)
	for i := range fields {
		if strings.Contains(strings.ToLower(fields[i].FieldName), label) {
			return &fields[i]
		}
	}
	return nil
}

func (f *Filter) valueMatches(v amocrm.FieldValue) bool {
	if f.cfg.TargetOptionID != 0 && v.EnumID == f.cfg.TargetOptionID {
		return true
	}
	text := v.Text()
	switch f.cfg.Mode {
	case MatchContains:
		return strings.Contains(text, f.cfg.TargetValue)
	default:
		return text == f.cfg.TargetValue
	}
}
