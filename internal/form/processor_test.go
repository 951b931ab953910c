package form_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
)

func boolPtr(b bool) *bool { return &b }

func testCampContext() form.CampContext {
	return form.CampContext{
		ID:              "camp-1",
		Countries:       []string{"de"},
		MinAge:          8,
		MaxAge:          17,
		StartAt:         time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		EndAt:           time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC),
		MaxParticipants: camp.ScalarCapacity(20),
		FreePlaces:      camp.ScalarCapacity(5),
	}
}

func compile(t *testing.T, s form.Schema) *form.CompiledSchema {
	t.Helper()

	cs, err := form.Compile(s)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return cs
}

// fake resolver in the style of the fake repos: behavior per token
type fakeFileResolver struct {
	refs map[string]form.FileRef
	errs map[string]error
}

func (f *fakeFileResolver) ResolvePendingFile(_ context.Context, token string) (form.FileRef, error) {
	if err, ok := f.errs[token]; ok {
		return form.FileRef{}, err
	}
	if ref, ok := f.refs[token]; ok {
		return ref, nil
	}
	return form.FileRef{}, form.ErrFileNotFound
}

func kinds(errs form.ValidationErrors) map[string]form.ErrorKind {
	out := make(map[string]form.ErrorKind, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Kind
	}
	return out
}

func TestProcessHappyPath(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text", IsRequired: true, CampDataType: "first_name"},
			{Name: "mail", Type: "text", IsRequired: true, CampDataType: "email"},
			{Name: "nickname", Type: "text"},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"first_name": "Ada",
		"mail":       "ada@example.org",
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Data["first_name"] != "Ada" {
		t.Fatalf("data: %v", out.Data)
	}
	if _, ok := out.Data["nickname"]; ok {
		t.Fatal("unsubmitted optional field must not appear in data")
	}
	if got := out.CampData.Name(); got != "Ada" {
		t.Fatalf("name = %q", got)
	}
	if got := out.CampData.Emails(); len(got) != 1 || got[0] != "ada@example.org" {
		t.Fatalf("emails = %v", got)
	}
}

func TestProcessCollectsEveryError(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text", IsRequired: true},
			{Name: "age", Type: "text", IsRequired: true, Validators: []form.Validator{
				{Expression: "{age} >= {camp.minAge}", ErrorText: "too young for this camp"},
			}},
		}}},
	})

	_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"age": "5",
	}, nil)

	var errs form.ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("got %T (%v), want ValidationErrors", err, err)
	}
	if len(errs) != 2 {
		t.Fatalf("got %d errors (%v), want 2", len(errs), errs)
	}

	got := kinds(errs)
	if got["first_name"] != form.ErrRequired {
		t.Fatalf("first_name: %v", got)
	}
	if got["age"] != form.ErrValidator {
		t.Fatalf("age: %v", got)
	}
}

func TestProcessUnknownFieldPolicy(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text"},
			{Name: "internal_notes", Type: "text", Visible: boolPtr(false)},
			{Name: "guardian_mail", Type: "text", VisibleIf: "{isminor}"},
		}}},
		CalculatedValues: []form.CalculatedValue{
			{Name: "isminor", Expression: "{age} < 18"},
		},
	})

	t.Run("undeclared field is rejected", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"first_name": "Jhon",
			"some_field": "x",
		}, nil)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		if len(errs) != 1 || errs[0].Kind != form.ErrUnknownField || errs[0].Field != "some_field" {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("statically hidden field is rejected", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"first_name":     "Jhon",
			"internal_notes": "x",
		}, nil)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		if len(errs) != 1 || errs[0].Kind != form.ErrUnknownField {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("conditionally hidden field drops silently", func(t *testing.T) {
		out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"first_name":    "Jhon",
			"age":           "25",
			"guardian_mail": "mom@example.org",
		}, nil)
		// age itself is undeclared here, so craft the schema input properly:
		// guardian_mail hidden because isminor is false without age binding
		_ = out
		if err == nil {
			t.Fatal("age is not a declared field, expected rejection")
		}

		out, err = form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"first_name":    "Jhon",
			"guardian_mail": "mom@example.org",
		}, nil)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if _, ok := out.Data["guardian_mail"]; ok {
			t.Fatal("conditionally hidden value must be discarded, not stored")
		}
	})
}

func TestProcessReservedKeysAreIgnored(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text", IsRequired: true},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"first_name":  "Ada",
		"status":      "ACCEPTED",
		"waitingList": false,
	}, nil)
	if err != nil {
		t.Fatalf("status/waitingList must be ignored, got %v", err)
	}

	if _, ok := out.Data["status"]; ok {
		t.Fatal("status must not survive into stored data")
	}
	if _, ok := out.Data["waitingList"]; ok {
		t.Fatal("waitingList must not survive into stored data")
	}
}

func TestProcessRequiredIf(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "date_of_birth", Type: "date", IsRequired: true},
			{Name: "guardian_mail", Type: "text", RequiredIf: "isMinor({date_of_birth}, {camp.startAt})"},
		}}},
	})

	_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"date_of_birth": "2015-03-01",
	}, nil)

	var errs form.ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("got %v, want ValidationErrors", err)
	}
	if len(errs) != 1 || errs[0].Field != "guardian_mail" || errs[0].Kind != form.ErrRequired {
		t.Fatalf("errs = %v", errs)
	}

	// adults do not need a guardian
	_, err = form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"date_of_birth": "1990-03-01",
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessPanels(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "contacts", Type: "paneldynamic", MinPanelCount: 1, MaxPanelCount: 2,
				TemplateElements: []form.Field{
					{Name: "contact_name", Type: "text", IsRequired: true},
					{Name: "contact_mail", Type: "text", CampDataType: "email"},
				},
			},
		}}},
	})

	t.Run("too few panels", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"contacts": []any{},
		}, nil)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		// empty list counts as a missing required-by-min value
		found := false
		for _, e := range errs {
			if e.Kind == form.ErrPanelCount || e.Kind == form.ErrRequired {
				found = true
			}
		}
		if !found {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("too many panels", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"contacts": []any{
				map[string]any{"contact_name": "a"},
				map[string]any{"contact_name": "b"},
				map[string]any{"contact_name": "c"},
			},
		}, nil)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		if errs[0].Kind != form.ErrPanelCount {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("per-panel validation and unknown panel keys", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"contacts": []any{
				map[string]any{"contact_mail": "a@example.org"},
				map[string]any{"contact_name": "b", "smuggled": true},
			},
		}, nil)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}

		got := kinds(errs)
		if got["contacts[0].contact_name"] != form.ErrRequired {
			t.Fatalf("errs = %v", errs)
		}
		if got["contacts[1].smuggled"] != form.ErrUnknownField {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("valid panels collect camp data per instance", func(t *testing.T) {
		out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"contacts": []any{
				map[string]any{"contact_name": "a", "contact_mail": "a@example.org"},
				map[string]any{"contact_name": "b", "contact_mail": "b@example.org"},
			},
		}, nil)
		if err != nil {
			t.Fatalf("process: %v", err)
		}

		emails := out.CampData.Emails()
		if len(emails) != 2 || emails[0] != "a@example.org" || emails[1] != "b@example.org" {
			t.Fatalf("emails = %v", emails)
		}
	})
}

func TestProcessFileFields(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "vaccination_card", Type: "file"},
		}}},
	})

	resolver := &fakeFileResolver{
		refs: map[string]form.FileRef{
			"tok-1": {ID: "file-abc", Name: "card.pdf"},
		},
		errs: map[string]error{
			"tok-taken": form.ErrFileAssigned,
		},
	}

	t.Run("token rewritten to stable reference", func(t *testing.T) {
		out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"vaccination_card": "tok-1",
		}, resolver)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if out.Data["vaccination_card"] != "file-abc" {
			t.Fatalf("data = %v", out.Data)
		}
		if len(out.Files) != 1 || out.Files[0].ID != "file-abc" {
			t.Fatalf("files = %v", out.Files)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"vaccination_card": "tok-nope",
		}, resolver)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		if errs[0].Kind != form.ErrFile {
			t.Fatalf("errs = %v", errs)
		}
	})

	t.Run("already assigned file", func(t *testing.T) {
		_, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
			"vaccination_card": "tok-taken",
		}, resolver)

		var errs form.ValidationErrors
		if !errors.As(err, &errs) {
			t.Fatalf("got %v, want ValidationErrors", err)
		}
		if errs[0].Kind != form.ErrFile {
			t.Fatalf("errs = %v", errs)
		}
	})
}

func TestProcessValueNameAlias(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "counselor_birthday", Type: "date", ValueName: "date_of_birth", CampDataType: "date_of_birth"},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"date_of_birth": "2001-01-01",
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if out.Data["date_of_birth"] != "2001-01-01" {
		t.Fatalf("data = %v", out.Data)
	}
	if len(out.CampData["date_of_birth"]) != 1 {
		t.Fatalf("campData = %v", out.CampData)
	}
}
