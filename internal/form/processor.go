package form

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/form/expr"
)

// Submitters cannot set their own outcome: these keys are stripped from raw
// input before any validation runs, so the allocator's decision always wins.
var reservedKeys = map[string]bool{
	"status":      true,
	"waitingList": true,
}

// CampContext exposes the camp attributes expressions may reference as
// {camp.*} bindings.
type CampContext struct {
	ID              string
	Countries       []string
	MinAge          int
	MaxAge          int
	StartAt         time.Time
	EndAt           time.Time
	MaxParticipants camp.Capacity
	FreePlaces      camp.Capacity
}

func (c CampContext) bindings() expr.Bindings {
	countries := make([]any, len(c.Countries))
	for i, country := range c.Countries {
		countries[i] = country
	}

	return expr.Bindings{
		"camp.minAge":          float64(c.MinAge),
		"camp.maxAge":          float64(c.MaxAge),
		"camp.startAt":         c.StartAt,
		"camp.endAt":           c.EndAt,
		"camp.countries":       countries,
		"camp.maxParticipants": capacityBinding(c.MaxParticipants),
		"camp.freePlaces":      capacityBinding(c.FreePlaces),
	}
}

func capacityBinding(c camp.Capacity) any {
	if !c.PerCountry() {
		return float64(c.Value())
	}
	m := make(map[string]any)
	for _, country := range c.Countries() {
		n, _ := c.For(country)
		m[country] = float64(n)
	}
	return m
}

// FileRef is a stable file identifier handed back by the storage
// collaborator once a pending upload token resolves.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FileResolver looks up pending upload tokens. Possession of the token is
// the whole claim: tokens are single-use random UUIDs handed out at upload
// time, there is no uploader session to match against. Implementations
// return ErrFileNotFound for unknown/expired tokens and ErrFileAssigned
// when the file already belongs to another registration. Resolution only
// reads storage state; nothing is re-parented until the enclosing
// transaction commits.
type FileResolver interface {
	ResolvePendingFile(ctx context.Context, token string) (FileRef, error)
}

type ProcessedForm struct {
	// Data holds the validated submission keyed by storage key, with file
	// tokens replaced by stable file references.
	Data map[string]any
	// CampData is the canonical projection used for capacity decisions and
	// notifications.
	CampData registration.CampData
	// Files lists every resolved file reference, to be re-parented onto the
	// registration inside the same transaction that persists it.
	Files []FileRef
}

// Process runs a raw submission through the compiled schema: calculated
// values, visibility pruning, the unknown-field policy, required and custom
// validators, panel bounds and file resolution. It returns either the fully
// normalized form or every validation error at once.
func Process(ctx context.Context, cs *CompiledSchema, campCtx CampContext, submission map[string]any, files FileResolver) (*ProcessedForm, error) {
	raw := make(map[string]any, len(submission))
	for k, v := range submission {
		if reservedKeys[k] {
			continue
		}
		raw[k] = v
	}

	binds := campCtx.bindings()
	for k, v := range raw {
		binds[k] = v
	}
	for _, cc := range cs.calculated {
		binds[cc.calc.Name] = expr.Eval(cc.node, binds)
	}

	visible, condHidden := cs.resolveVisibility(binds)

	var errs ValidationErrors

	// Undeclared keys and statically hidden fields are a hard error;
	// conditionally hidden fields silently drop their submitted values.
	for key := range raw {
		if _, ok := visible[key]; ok {
			continue
		}
		if condHidden[key] {
			delete(raw, key)
			delete(binds, key)
			continue
		}
		errs = append(errs, FieldError{
			Field:   key,
			Kind:    ErrUnknownField,
			Message: "field is not part of this form",
		})
	}

	p := &processor{ctx: ctx, binds: binds, files: files}

	for _, cf := range cs.fieldOrder {
		key := cf.field.Key()
		if visible[key] != cf {
			continue
		}

		if err := p.validateField(cf, key, raw, binds, &errs); err != nil {
			return nil, err
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	data := make(map[string]any, len(raw))
	for key := range visible {
		if v, ok := raw[key]; ok && !isEmpty(v) {
			data[key] = v
		}
	}

	return &ProcessedForm{
		Data:     data,
		CampData: cs.ExtractCampData(data),
		Files:    p.resolved,
	}, nil
}

// resolveVisibility splits the schema's fields into currently visible ones
// and conditionally hidden ones. Fields statically authored as visible:false
// (and fields of such pages) appear in neither set, which makes submitting
// them an unknown-field error.
func (cs *CompiledSchema) resolveVisibility(binds expr.Bindings) (map[string]*compiledField, map[string]bool) {
	visible := make(map[string]*compiledField)
	condHidden := make(map[string]bool)

	for _, page := range cs.pages {
		if page.page.Visible != nil && !*page.page.Visible {
			continue
		}
		pageShown := page.visibleIf == nil || expr.EvalBool(page.visibleIf, binds)

		for _, cf := range page.fields {
			key := cf.field.Key()

			if cf.field.Visible != nil && !*cf.field.Visible {
				continue
			}
			if !pageShown || (cf.visibleIf != nil && !expr.EvalBool(cf.visibleIf, binds)) {
				condHidden[key] = true
				continue
			}
			visible[key] = cf
		}
	}

	return visible, condHidden
}

type processor struct {
	ctx      context.Context
	binds    expr.Bindings
	files    FileResolver
	resolved []FileRef
}

func (p *processor) validateField(cf *compiledField, key string, values map[string]any, binds expr.Bindings, errs *ValidationErrors) error {
	val, present := values[key]
	present = present && !isEmpty(val)

	required := cf.field.IsRequired
	if cf.requiredIf != nil {
		required = required || expr.EvalBool(cf.requiredIf, binds)
	}

	if required && !present {
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrRequired,
			Message: "value is required",
		})
		return nil
	}

	if !present {
		// a panel with a minimum count must be there even when not flagged
		// required
		if cf.field.Type == TypePanelDynamic && cf.field.MinPanelCount > 0 {
			*errs = append(*errs, FieldError{
				Field:   key,
				Kind:    ErrPanelCount,
				Message: fmt.Sprintf("needs at least %d entries", cf.field.MinPanelCount),
			})
		}
		return nil
	}

	switch cf.field.Type {
	case TypePanelDynamic:
		return p.validatePanels(cf, key, val, values, errs)
	case TypeFile:
		return p.resolveFileField(key, val, values, errs)
	default:
		p.runValidators(cf, key, binds, errs)
		return nil
	}
}

func (p *processor) runValidators(cf *compiledField, key string, binds expr.Bindings, errs *ValidationErrors) {
	for _, v := range cf.validators {
		if expr.EvalBool(v.node, binds) {
			continue
		}
		msg := v.validator.ErrorText
		if msg == "" {
			msg = "value is invalid"
		}
		*errs = append(*errs, FieldError{Field: key, Kind: ErrValidator, Message: msg})
	}
}

func (p *processor) validatePanels(cf *compiledField, key string, val any, values map[string]any, errs *ValidationErrors) error {
	panels, ok := val.([]any)
	if !ok {
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrFieldType,
			Message: "must be a list of panels",
		})
		return nil
	}

	if cf.field.MinPanelCount > 0 && len(panels) < cf.field.MinPanelCount {
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrPanelCount,
			Message: fmt.Sprintf("needs at least %d entries", cf.field.MinPanelCount),
		})
	}
	if cf.field.MaxPanelCount > 0 && len(panels) > cf.field.MaxPanelCount {
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrPanelCount,
			Message: fmt.Sprintf("allows at most %d entries", cf.field.MaxPanelCount),
		})
	}

	templateKeys := make(map[string]*compiledField, len(cf.template))
	for _, tf := range cf.template {
		templateKeys[tf.field.Key()] = tf
	}

	for i, rawPanel := range panels {
		panel, ok := rawPanel.(map[string]any)
		if !ok {
			*errs = append(*errs, FieldError{
				Field:   fmt.Sprintf("%s[%d]", key, i),
				Kind:    ErrFieldType,
				Message: "panel must be an object",
			})
			continue
		}

		for pk := range panel {
			if _, declared := templateKeys[pk]; !declared {
				*errs = append(*errs, FieldError{
					Field:   fmt.Sprintf("%s[%d].%s", key, i, pk),
					Kind:    ErrUnknownField,
					Message: "field is not part of this panel",
				})
			}
		}

		// each panel instance validates independently, panel values shadow
		// top-level bindings of the same name
		panelBinds := make(expr.Bindings, len(p.binds)+len(panel))
		for k, v := range p.binds {
			panelBinds[k] = v
		}
		for k, v := range panel {
			panelBinds[k] = v
		}

		for _, tf := range cf.template {
			tkey := tf.field.Key()
			prefix := fmt.Sprintf("%s[%d].", key, i)

			var panelErrs ValidationErrors
			if err := p.validateField(tf, tkey, panel, panelBinds, &panelErrs); err != nil {
				return err
			}
			for _, fe := range panelErrs {
				fe.Field = prefix + fe.Field
				*errs = append(*errs, fe)
			}
		}
	}

	values[key] = val
	return nil
}

func (p *processor) resolveFileField(key string, val any, values map[string]any, errs *ValidationErrors) error {
	if p.files == nil {
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrFile,
			Message: "file uploads are not available",
		})
		return nil
	}

	switch tokens := val.(type) {
	case string:
		ref, err := p.resolveToken(key, tokens, errs)
		if err != nil {
			return err
		}
		if ref != nil {
			values[key] = ref.ID
		}
		return nil
	case []any:
		ids := make([]any, 0, len(tokens))
		for _, t := range tokens {
			token, ok := t.(string)
			if !ok {
				*errs = append(*errs, FieldError{
					Field:   key,
					Kind:    ErrFieldType,
					Message: "file reference must be a string token",
				})
				continue
			}
			ref, err := p.resolveToken(key, token, errs)
			if err != nil {
				return err
			}
			if ref != nil {
				ids = append(ids, ref.ID)
			}
		}
		values[key] = ids
		return nil
	default:
		*errs = append(*errs, FieldError{
			Field:   key,
			Kind:    ErrFieldType,
			Message: "file reference must be a string token",
		})
		return nil
	}
}

func (p *processor) resolveToken(key, token string, errs *ValidationErrors) (*FileRef, error) {
	ref, err := p.files.ResolvePendingFile(p.ctx, token)

	switch {
	case err == nil:
		p.resolved = append(p.resolved, ref)
		return &ref, nil
	case errors.Is(err, ErrFileNotFound):
		*errs = append(*errs, FieldError{Field: key, Kind: ErrFile, Message: "uploaded file not found"})
		return nil, nil
	case errors.Is(err, ErrFileAssigned):
		*errs = append(*errs, FieldError{Field: key, Kind: ErrFile, Message: "file is already attached to another registration"})
		return nil, nil
	default:
		return nil, err
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
