// Package form implements the registration intake engine: the camp-authored
// form schema model, submission validation, and the canonical camp-data
// projection capacity decisions are made from.
package form

import (
	"encoding/json"

	"github.com/marvin-wtt/camp-registration-api/internal/form/expr"
)

// Field types with engine-specific behavior. Plain input types (text,
// dropdown, date, ...) share the default handling.
const (
	TypeBoolean      = "boolean"
	TypeFile         = "file"
	TypePanelDynamic = "paneldynamic"
	TypeExpression   = "expression"
)

// Schema is the JSON shape of a camp's stored form document.
type Schema struct {
	Pages            []Page            `json:"pages"`
	CalculatedValues []CalculatedValue `json:"calculatedValues,omitempty"`
}

type Page struct {
	Name      string  `json:"name,omitempty"`
	Visible   *bool   `json:"visible,omitempty"`
	VisibleIf string  `json:"visibleIf,omitempty"`
	Elements  []Field `json:"elements"`
}

type Field struct {
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Title        string      `json:"title,omitempty"`
	IsRequired   bool        `json:"isRequired,omitempty"`
	RequiredIf   string      `json:"requiredIf,omitempty"`
	Visible      *bool       `json:"visible,omitempty"`
	VisibleIf    string      `json:"visibleIf,omitempty"`
	CampDataType string      `json:"campDataType,omitempty"`
	ValueName    string      `json:"valueName,omitempty"`
	Validators   []Validator `json:"validators,omitempty"`

	// paneldynamic only
	TemplateElements []Field `json:"templateElements,omitempty"`
	MinPanelCount    int     `json:"minPanelCount,omitempty"`
	MaxPanelCount    int     `json:"maxPanelCount,omitempty"`
}

// Key is the submission key the field's value is stored under. ValueName
// aliases override the field name, e.g. a counselor date-of-birth question
// storing into date_of_birth.
func (f Field) Key() string {
	if f.ValueName != "" {
		return f.ValueName
	}
	return f.Name
}

type Validator struct {
	Expression string `json:"expression"`
	ErrorText  string `json:"errorText,omitempty"`
}

type CalculatedValue struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// CompiledSchema is a Schema with every expression parsed into the typed IR.
// Compile once per form version (the coordinator caches by camp id+version);
// a compiled schema is immutable and safe for concurrent use.
type CompiledSchema struct {
	schema     Schema
	pages      []*compiledPage
	calculated []compiledCalc

	// fieldsByKey maps every top-level storage key to its field, aliases
	// included. Panel template fields live under their panel.
	fieldsByKey map[string]*compiledField
	// declaration order of top-level fields, drives projection order
	fieldOrder []*compiledField
}

type compiledPage struct {
	page      Page
	visibleIf expr.Node
	fields    []*compiledField
}

type compiledField struct {
	field      Field
	page       *compiledPage
	visibleIf  expr.Node
	requiredIf expr.Node
	validators []compiledValidator
	template   []*compiledField // paneldynamic template, nil otherwise
}

type compiledValidator struct {
	validator Validator
	node      expr.Node
}

type compiledCalc struct {
	calc CalculatedValue
	node expr.Node
}

// Parse unmarshals and compiles a stored form document.
func Parse(raw json.RawMessage) (*CompiledSchema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, configErrorf(err, "form document is not valid JSON")
	}
	return Compile(s)
}

// Compile validates the schema and parses all of its expressions. Every
// authoring error is caught here, at camp load time, so a broken form can
// never take down a submission.
func Compile(s Schema) (*CompiledSchema, error) {
	cs := &CompiledSchema{
		schema:      s,
		fieldsByKey: make(map[string]*compiledField),
	}

	seen := make(map[string]string) // name -> where it was declared

	for pi := range s.Pages {
		page := &compiledPage{page: s.Pages[pi]}

		if src := s.Pages[pi].VisibleIf; src != "" {
			node, err := expr.Parse(src)
			if err != nil {
				return nil, configErrorf(err, "page %q visibleIf", s.Pages[pi].Name)
			}
			page.visibleIf = node
		}

		for fi := range s.Pages[pi].Elements {
			cf, err := compileField(s.Pages[pi].Elements[fi], page, seen)
			if err != nil {
				return nil, err
			}
			page.fields = append(page.fields, cf)
			cs.fieldOrder = append(cs.fieldOrder, cf)
			cs.fieldsByKey[cf.field.Key()] = cf
		}

		cs.pages = append(cs.pages, page)
	}

	for _, cv := range s.CalculatedValues {
		if cv.Name == "" {
			return nil, configErrorf(nil, "calculated value without a name")
		}
		node, err := expr.Parse(cv.Expression)
		if err != nil {
			return nil, configErrorf(err, "calculated value %q", cv.Name)
		}
		cs.calculated = append(cs.calculated, compiledCalc{calc: cv, node: node})
	}

	return cs, nil
}

func compileField(f Field, page *compiledPage, seen map[string]string) (*compiledField, error) {
	if f.Name == "" {
		return nil, configErrorf(nil, "field without a name on page %q", page.page.Name)
	}

	// field names and aliases must be unique across the whole schema,
	// template fields included
	key := f.Key()
	if prev, dup := seen[key]; dup {
		return nil, configErrorf(nil, "duplicate field name %q (also declared as %s)", key, prev)
	}
	seen[key] = "field " + f.Name
	if f.ValueName != "" && f.ValueName != f.Name {
		if prev, dup := seen[f.Name]; dup {
			return nil, configErrorf(nil, "field name %q collides with %s", f.Name, prev)
		}
		seen[f.Name] = "alias source " + f.Name
	}

	cf := &compiledField{field: f, page: page}

	var err error
	if cf.visibleIf, err = parseOptional(f.VisibleIf); err != nil {
		return nil, configErrorf(err, "field %q visibleIf", f.Name)
	}
	if cf.requiredIf, err = parseOptional(f.RequiredIf); err != nil {
		return nil, configErrorf(err, "field %q requiredIf", f.Name)
	}

	for _, v := range f.Validators {
		if v.Expression == "" {
			return nil, configErrorf(nil, "field %q has a validator without an expression", f.Name)
		}
		node, perr := expr.Parse(v.Expression)
		if perr != nil {
			return nil, configErrorf(perr, "field %q validator", f.Name)
		}
		cf.validators = append(cf.validators, compiledValidator{validator: v, node: node})
	}

	if f.Type == TypePanelDynamic {
		if f.MaxPanelCount > 0 && f.MinPanelCount > f.MaxPanelCount {
			return nil, configErrorf(nil, "field %q minPanelCount exceeds maxPanelCount", f.Name)
		}
		for _, tf := range f.TemplateElements {
			if tf.Type == TypePanelDynamic {
				return nil, configErrorf(nil, "field %q nests a panel inside a panel", f.Name)
			}
			tcf, terr := compileField(tf, page, seen)
			if terr != nil {
				return nil, terr
			}
			cf.template = append(cf.template, tcf)
		}
	} else if len(f.TemplateElements) > 0 && f.CampDataType != "address" {
		return nil, configErrorf(nil, "field %q declares template elements but is not a panel", f.Name)
	} else if f.CampDataType == "address" {
		// composite address: sub-elements only describe the campDataType
		// mapping of the object keys, they are not standalone fields
		for _, tf := range f.TemplateElements {
			if tf.Name == "" {
				return nil, configErrorf(nil, "address field %q has an unnamed sub-field", f.Name)
			}
			tcf := &compiledField{field: tf, page: page}
			cf.template = append(cf.template, tcf)
		}
	}

	return cf, nil
}

func parseOptional(src string) (expr.Node, error) {
	if src == "" {
		return nil, nil
	}
	return expr.Parse(src)
}

// Fields returns the top-level fields in declaration order.
func (cs *CompiledSchema) Fields() []Field {
	out := make([]Field, len(cs.fieldOrder))
	for i, cf := range cs.fieldOrder {
		out[i] = cf.field
	}
	return out
}
