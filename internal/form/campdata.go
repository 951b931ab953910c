package form

import (
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
)

// ExtractCampData maps the validated submission onto the canonical camp-data
// vocabulary. For every field carrying a campDataType tag its value(s) are
// appended to the list at that canonical key, in schema declaration order —
// repeating panels contribute one value per instance. Fields without a tag
// are omitted. The function is pure: same data in, same projection out.
func (cs *CompiledSchema) ExtractCampData(data map[string]any) registration.CampData {
	out := make(registration.CampData)

	for _, cf := range cs.fieldOrder {
		key := cf.field.Key()
		val, ok := data[key]
		if !ok || isEmpty(val) {
			continue
		}

		if cf.field.Type == TypePanelDynamic {
			extractFromPanels(cf, val, out)
			continue
		}

		appendTagged(cf, val, out)
	}

	return out
}

func extractFromPanels(cf *compiledField, val any, out registration.CampData) {
	panels, ok := val.([]any)
	if !ok {
		return
	}

	for _, rawPanel := range panels {
		panel, ok := rawPanel.(map[string]any)
		if !ok {
			continue
		}
		for _, tf := range cf.template {
			tval, ok := panel[tf.field.Key()]
			if !ok || isEmpty(tval) {
				continue
			}
			appendTagged(tf, tval, out)
		}
	}
}

func appendTagged(cf *compiledField, val any, out registration.CampData) {
	tag := cf.field.CampDataType
	if tag == "" {
		return
	}

	if tag == registration.KeyAddress {
		val = normalizeAddress(cf, val)
		if val == nil {
			return
		}
	}

	out[tag] = append(out[tag], val)
}

// normalizeAddress rewrites a composite address object into the fixed
// {street, city, zipCode, country} shape, whatever sub-field names the camp
// author chose. Sub-fields are mapped through their own campDataType tags
// when declared, otherwise well-known key names are accepted directly.
func normalizeAddress(cf *compiledField, val any) any {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil
	}

	out := map[string]any{}

	if len(cf.template) > 0 {
		for _, sub := range cf.template {
			v, ok := obj[sub.field.Key()]
			if !ok || isEmpty(v) {
				continue
			}
			if canonical := addressKey(sub.field.CampDataType); canonical != "" {
				out[canonical] = v
			}
		}
	} else {
		for key, v := range obj {
			if isEmpty(v) {
				continue
			}
			if canonical := addressKey(key); canonical != "" {
				out[canonical] = v
			}
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func addressKey(tag string) string {
	switch tag {
	case registration.KeyStreet:
		return "street"
	case registration.KeyCity:
		return "city"
	case registration.KeyZipCode, "zipCode", "zip":
		return "zipCode"
	case registration.KeyCountry:
		return "country"
	default:
		return ""
	}
}
