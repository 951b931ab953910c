package form_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/marvin-wtt/camp-registration-api/internal/form"
)

func TestCompileRejectsBrokenSchemas(t *testing.T) {
	tests := []struct {
		name   string
		schema form.Schema
	}{
		{
			"duplicate field name",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "email", Type: "text"},
				{Name: "email", Type: "text"},
			}}}},
		},
		{
			"duplicate via alias",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "dob", Type: "date"},
				{Name: "counselor_dob", Type: "date", ValueName: "dob"},
			}}}},
		},
		{
			"duplicate template name",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "email", Type: "text"},
				{Name: "contacts", Type: "paneldynamic", TemplateElements: []form.Field{
					{Name: "email", Type: "text"},
				}},
			}}}},
		},
		{
			"bad visibleIf expression",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "x", Type: "text", VisibleIf: "{a} = "},
			}}}},
		},
		{
			"bad validator expression",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "x", Type: "text", Validators: []form.Validator{{Expression: "((("}}},
			}}}},
		},
		{
			"unknown function",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "x", Type: "text", RequiredIf: "isAlien({x})"},
			}}}},
		},
		{
			"validator without expression",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "x", Type: "text", Validators: []form.Validator{{ErrorText: "nope"}}},
			}}}},
		},
		{
			"panel bounds inverted",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "contacts", Type: "paneldynamic", MinPanelCount: 3, MaxPanelCount: 1},
			}}}},
		},
		{
			"nested panels",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{
				{Name: "outer", Type: "paneldynamic", TemplateElements: []form.Field{
					{Name: "inner", Type: "paneldynamic"},
				}},
			}}}},
		},
		{
			"nameless field",
			form.Schema{Pages: []form.Page{{Elements: []form.Field{{Type: "text"}}}}},
		},
		{
			"nameless calculated value",
			form.Schema{CalculatedValues: []form.CalculatedValue{{Expression: "1 = 1"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := form.Compile(tt.schema)
			if err == nil {
				t.Fatal("expected a configuration error")
			}

			var cfgErr *form.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("got %T (%v), want *form.ConfigurationError", err, err)
			}
		})
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := form.Parse(json.RawMessage(`{"pages": "nope"}`))

	var cfgErr *form.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T (%v), want *form.ConfigurationError", err, err)
	}
}

func TestCompileAcceptsRealisticSchema(t *testing.T) {
	doc := json.RawMessage(`{
		"pages": [
			{
				"name": "personal",
				"elements": [
					{"type": "text", "name": "vorname", "isRequired": true, "campDataType": "first_name"},
					{"type": "text", "name": "nachname", "isRequired": true, "campDataType": "last_name"},
					{"type": "date", "name": "geburtsdatum", "isRequired": true, "campDataType": "date_of_birth", "valueName": "date_of_birth"},
					{"type": "text", "name": "mail", "isRequired": true, "campDataType": "email"}
				]
			},
			{
				"name": "guardian",
				"visibleIf": "{isminor}",
				"elements": [
					{"type": "paneldynamic", "name": "guardians", "minPanelCount": 1, "maxPanelCount": 2,
						"templateElements": [
							{"type": "text", "name": "guardian_name", "isRequired": true},
							{"type": "text", "name": "guardian_mail", "isRequired": true, "campDataType": "email"}
						]
					}
				]
			}
		],
		"calculatedValues": [
			{"name": "isminor", "expression": "isMinor({date_of_birth}, {camp.startAt})"},
			{"name": "isadult", "expression": "not {isminor}"}
		]
	}`)

	cs, err := form.Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	fields := cs.Fields()
	if len(fields) != 5 {
		t.Fatalf("got %d top-level fields, want 5", len(fields))
	}
	if fields[2].Key() != "date_of_birth" {
		t.Fatalf("alias not honored: key=%s", fields[2].Key())
	}
}
