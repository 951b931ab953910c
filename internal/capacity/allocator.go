// Package capacity decides whether a registrant gets one of a camp's
// places or lands on the waiting list. The decision itself is pure; the
// caller persists the returned counters inside a transaction with an
// optimistic version check on the camp row.
package capacity

import (
	"errors"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
)

// ErrCountryUnresolvable means an international camp could not place the
// registrant into a country bucket. This is a client data error, never
// retried and never silently waitlisted.
var ErrCountryUnresolvable = errors.New("registrant country missing or not offered by this camp")

// Claim is the outcome of one allocation attempt.
type Claim struct {
	Status registration.Status
	// Counted reports whether the claim took a place, i.e. FreePlaces
	// differs from the camp's current counters. Staff and waitlisted
	// registrations never count.
	Counted bool
	// Country is the bucket the claim resolved to, empty for national camps
	// and staff.
	Country string
	// FreePlaces is the camp's new counter state to be persisted when
	// Counted is true.
	FreePlaces camp.Capacity
}

// Decide computes the allocation outcome for a new registration against the
// camp's current counters. It never mutates the camp and never persists
// anything.
func Decide(c camp.Camp, data registration.CampData) (Claim, error) {
	// staff is always accepted and never consumes a place
	if !data.IsParticipant() {
		return Claim{Status: registration.StatusAccepted, FreePlaces: c.FreePlaces}, nil
	}

	if c.IsNational() {
		free := c.FreePlaces.Value()
		if free <= 0 {
			return Claim{Status: registration.StatusWaitlisted, FreePlaces: c.FreePlaces}, nil
		}
		return Claim{
			Status:     registration.StatusAccepted,
			Counted:    true,
			FreePlaces: c.FreePlaces.WithValue(free - 1),
		}, nil
	}

	country, err := resolveCountry(c, data)
	if err != nil {
		return Claim{}, err
	}

	free, _ := c.FreePlaces.For(country)
	if free <= 0 {
		return Claim{Status: registration.StatusWaitlisted, Country: country, FreePlaces: c.FreePlaces}, nil
	}

	return Claim{
		Status:     registration.StatusAccepted,
		Counted:    true,
		Country:    country,
		FreePlaces: c.FreePlaces.WithCountry(country, free-1),
	}, nil
}

// Release computes the counters after a counted registration goes away
// (deletion, or the decrement-new half of a role/country change). Staff and
// waitlisted registrations release nothing. Counters never exceed the
// configured maximum.
func Release(c camp.Camp, data registration.CampData, status registration.Status) (Claim, error) {
	if status != registration.StatusAccepted || !data.IsParticipant() {
		return Claim{Status: status, FreePlaces: c.FreePlaces}, nil
	}

	if c.IsNational() {
		free := c.FreePlaces.Value()
		if free >= c.MaxParticipants.Value() {
			// nothing was counted for this registration, leave as is
			return Claim{Status: status, FreePlaces: c.FreePlaces}, nil
		}
		return Claim{
			Status:     status,
			Counted:    true,
			FreePlaces: c.FreePlaces.WithValue(free + 1),
		}, nil
	}

	country, err := resolveCountry(c, data)
	if err != nil {
		return Claim{}, err
	}

	free, _ := c.FreePlaces.For(country)
	max, _ := c.MaxParticipants.For(country)
	if free >= max {
		return Claim{Status: status, Country: country, FreePlaces: c.FreePlaces}, nil
	}

	return Claim{
		Status:     status,
		Counted:    true,
		Country:    country,
		FreePlaces: c.FreePlaces.WithCountry(country, free+1),
	}, nil
}

func resolveCountry(c camp.Camp, data registration.CampData) (string, error) {
	country := data.Country()
	if country == "" {
		return "", ErrCountryUnresolvable
	}
	for _, offered := range c.Countries {
		if offered == country {
			return country, nil
		}
	}
	return "", ErrCountryUnresolvable
}
