package camp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Capacity is either a single integer (national camps) or a per-country
// mapping (international camps). It marshals to whichever JSON shape it
// holds, so the camps table can keep a single jsonb column for both.
type Capacity struct {
	scalar    int
	byCountry map[string]int
}

func ScalarCapacity(n int) Capacity {
	return Capacity{scalar: n}
}

func PerCountryCapacity(m map[string]int) Capacity {
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Capacity{byCountry: cp}
}

func (c Capacity) PerCountry() bool {
	return c.byCountry != nil
}

// Value returns the scalar amount. Only meaningful for scalar capacity.
func (c Capacity) Value() int {
	return c.scalar
}

func (c Capacity) For(country string) (int, bool) {
	if c.byCountry == nil {
		return 0, false
	}
	n, ok := c.byCountry[country]
	return n, ok
}

func (c Capacity) CountryCount() int {
	return len(c.byCountry)
}

func (c Capacity) Countries() []string {
	out := make([]string, 0, len(c.byCountry))
	for country := range c.byCountry {
		out = append(out, country)
	}
	sort.Strings(out)
	return out
}

// Total sums all places regardless of shape.
func (c Capacity) Total() int {
	if c.byCountry == nil {
		return c.scalar
	}
	total := 0
	for _, n := range c.byCountry {
		total += n
	}
	return total
}

func (c Capacity) Clone() Capacity {
	if c.byCountry == nil {
		return c
	}
	return PerCountryCapacity(c.byCountry)
}

// WithValue returns a copy with the scalar amount replaced.
func (c Capacity) WithValue(n int) Capacity {
	return Capacity{scalar: n}
}

// WithCountry returns a copy with a single country's amount replaced. Other
// countries are untouched.
func (c Capacity) WithCountry(country string, n int) Capacity {
	cp := c.Clone()
	if cp.byCountry == nil {
		cp.byCountry = make(map[string]int, 1)
	}
	cp.byCountry[country] = n
	return cp
}

func (c Capacity) Equal(other Capacity) bool {
	if c.PerCountry() != other.PerCountry() {
		return false
	}
	if !c.PerCountry() {
		return c.scalar == other.scalar
	}
	if len(c.byCountry) != len(other.byCountry) {
		return false
	}
	for country, n := range c.byCountry {
		if other.byCountry[country] != n {
			return false
		}
	}
	return true
}

func (c Capacity) String() string {
	if c.byCountry == nil {
		return fmt.Sprintf("%d", c.scalar)
	}
	b, _ := json.Marshal(c.byCountry)
	return string(b)
}

func (c Capacity) MarshalJSON() ([]byte, error) {
	if c.byCountry != nil {
		return json.Marshal(c.byCountry)
	}
	return json.Marshal(c.scalar)
}

func (c *Capacity) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = Capacity{scalar: n}
		return nil
	}

	var m map[string]int
	if err := json.Unmarshal(data, &m); err == nil {
		*c = Capacity{byCountry: m}
		return nil
	}

	return errors.New("capacity must be a number or a country map")
}
