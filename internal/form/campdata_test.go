package form_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/marvin-wtt/camp-registration-api/internal/form"
)

func TestExtractCampDataAddressComposite(t *testing.T) {
	// camp author picked german sub-field names; nested campDataType tags
	// map them onto the canonical address shape
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "anschrift", Type: "address", CampDataType: "address",
				TemplateElements: []form.Field{
					{Name: "strasse", CampDataType: "street"},
					{Name: "ort", CampDataType: "city"},
					{Name: "plz", CampDataType: "zip_code"},
					{Name: "land", CampDataType: "country"},
				},
			},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"anschrift": map[string]any{
			"strasse": "Musterweg 1",
			"ort":     "Berlin",
			"plz":     "10115",
			"land":    "de",
		},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	addrs := out.CampData["address"]
	if len(addrs) != 1 {
		t.Fatalf("campData = %v", out.CampData)
	}

	want := map[string]any{
		"street":  "Musterweg 1",
		"city":    "Berlin",
		"zipCode": "10115",
		"country": "de",
	}
	if !reflect.DeepEqual(addrs[0], want) {
		t.Fatalf("address = %v, want %v", addrs[0], want)
	}

	if got := out.CampData.Country(); got != "de" {
		t.Fatalf("country = %q", got)
	}
}

func TestExtractCampDataFreeFormAddress(t *testing.T) {
	// no sub-field declarations: well-known keys are accepted directly
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "home", Type: "address", CampDataType: "address"},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"home": map[string]any{
			"street":  "Main St 5",
			"city":    "Lyon",
			"zip":     "69001",
			"country": "fr",
		},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	addr, ok := out.CampData["address"][0].(map[string]any)
	if !ok {
		t.Fatalf("campData = %v", out.CampData)
	}
	if addr["zipCode"] != "69001" || addr["country"] != "fr" {
		t.Fatalf("address = %v", addr)
	}
}

func TestCountryTagBeatsAddressFallback(t *testing.T) {
	// a country-tagged field beats the address sub-value in either
	// declaration order; the address country is only a fallback
	cases := []struct {
		name     string
		elements []form.Field
	}{
		{
			name: "country declared first",
			elements: []form.Field{
				{Name: "country", Type: "dropdown", CampDataType: "country"},
				{Name: "home", Type: "address", CampDataType: "address"},
			},
		},
		{
			name: "address declared first",
			elements: []form.Field{
				{Name: "home", Type: "address", CampDataType: "address"},
				{Name: "country", Type: "dropdown", CampDataType: "country"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cs := compile(t, form.Schema{
				Pages: []form.Page{{Elements: tc.elements}},
			})

			out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
				"country": "de",
				"home":    map[string]any{"country": "fr"},
			}, nil)
			if err != nil {
				t.Fatalf("process: %v", err)
			}

			if got := out.CampData.Country(); got != "de" {
				t.Fatalf("country = %q, want de (country tag wins)", got)
			}
		})
	}
}

func TestCountryFallsBackToAddress(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "home", Type: "address", CampDataType: "address"},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"home": map[string]any{"country": "fr"},
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := out.CampData.Country(); got != "fr" {
		t.Fatalf("country = %q, want fr from the address fallback", got)
	}
}

func TestExtractCampDataIsIdempotent(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text", CampDataType: "first_name"},
			{Name: "mail", Type: "text", CampDataType: "email"},
			{Name: "guardian_mail", Type: "text", CampDataType: "email"},
			{Name: "untagged", Type: "text"},
		}}},
	})

	data := map[string]any{
		"first_name":    "Ada",
		"mail":          "ada@example.org",
		"guardian_mail": "parent@example.org",
		"untagged":      "ignored",
	}

	first := cs.ExtractCampData(data)
	second := cs.ExtractCampData(data)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("projection not idempotent: %v vs %v", first, second)
	}

	if len(first["email"]) != 2 {
		t.Fatalf("emails = %v", first["email"])
	}
	if first["email"][0] != "ada@example.org" {
		t.Fatalf("submission order not preserved: %v", first["email"])
	}
	if _, ok := first["untagged"]; ok {
		t.Fatal("untagged fields must be omitted")
	}
}

func TestRoleDefaultsToParticipant(t *testing.T) {
	cs := compile(t, form.Schema{
		Pages: []form.Page{{Elements: []form.Field{
			{Name: "first_name", Type: "text", CampDataType: "first_name"},
		}}},
	})

	out, err := form.Process(context.Background(), cs, testCampContext(), map[string]any{
		"first_name": "Ada",
	}, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !out.CampData.IsParticipant() {
		t.Fatal("missing role tag must default to participant")
	}
}
