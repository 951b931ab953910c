package capacity_test

import (
	"errors"
	"testing"

	"github.com/marvin-wtt/camp-registration-api/internal/capacity"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
)

func nationalCamp(free int) camp.Camp {
	return camp.Camp{
		ID:              "c1",
		Countries:       []string{"de"},
		MaxParticipants: camp.ScalarCapacity(5),
		FreePlaces:      camp.ScalarCapacity(free),
	}
}

func internationalCamp(freeDE, freeFR int) camp.Camp {
	return camp.Camp{
		ID:              "c2",
		Countries:       []string{"de", "fr"},
		MaxParticipants: camp.PerCountryCapacity(map[string]int{"de": 5, "fr": 3}),
		FreePlaces:      camp.PerCountryCapacity(map[string]int{"de": freeDE, "fr": freeFR}),
	}
}

func participant(country string) registration.CampData {
	d := registration.CampData{}
	if country != "" {
		d[registration.KeyCountry] = []any{country}
	}
	return d
}

func staff() registration.CampData {
	return registration.CampData{registration.KeyRole: []any{"counselor"}}
}

func TestDecideNationalCamp(t *testing.T) {
	t.Run("place available", func(t *testing.T) {
		claim, err := capacity.Decide(nationalCamp(1), participant(""))
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if claim.Status != registration.StatusAccepted || !claim.Counted {
			t.Fatalf("claim = %+v", claim)
		}
		if claim.FreePlaces.Value() != 0 {
			t.Fatalf("freePlaces = %v", claim.FreePlaces)
		}
	})

	t.Run("camp full waitlists without going negative", func(t *testing.T) {
		claim, err := capacity.Decide(nationalCamp(0), participant(""))
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if claim.Status != registration.StatusWaitlisted || claim.Counted {
			t.Fatalf("claim = %+v", claim)
		}
		if claim.FreePlaces.Value() != 0 {
			t.Fatalf("freePlaces must stay untouched, got %v", claim.FreePlaces)
		}
	})

	t.Run("staff bypasses capacity entirely", func(t *testing.T) {
		claim, err := capacity.Decide(nationalCamp(0), staff())
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if claim.Status != registration.StatusAccepted || claim.Counted {
			t.Fatalf("claim = %+v", claim)
		}
	})
}

func TestDecideInternationalCamp(t *testing.T) {
	t.Run("buckets are isolated", func(t *testing.T) {
		c := internationalCamp(0, 3)

		deClaim, err := capacity.Decide(c, participant("de"))
		if err != nil {
			t.Fatalf("decide de: %v", err)
		}
		if deClaim.Status != registration.StatusWaitlisted {
			t.Fatalf("de claim = %+v", deClaim)
		}

		frClaim, err := capacity.Decide(c, participant("fr"))
		if err != nil {
			t.Fatalf("decide fr: %v", err)
		}
		if frClaim.Status != registration.StatusAccepted || frClaim.Country != "fr" {
			t.Fatalf("fr claim = %+v", frClaim)
		}

		free, _ := frClaim.FreePlaces.For("fr")
		if free != 2 {
			t.Fatalf("fr freePlaces = %d", free)
		}
		deFree, _ := frClaim.FreePlaces.For("de")
		if deFree != 0 {
			t.Fatalf("de counter must be untouched, got %d", deFree)
		}
	})

	t.Run("country comes from the address when no country field exists", func(t *testing.T) {
		data := registration.CampData{
			registration.KeyAddress: []any{map[string]any{"country": "fr"}},
		}

		claim, err := capacity.Decide(internationalCamp(5, 3), data)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if claim.Country != "fr" {
			t.Fatalf("claim = %+v", claim)
		}
	})

	t.Run("unresolvable country is a hard error, not a waitlist", func(t *testing.T) {
		for _, data := range []registration.CampData{
			participant(""),   // no country at all
			participant("it"), // not offered
		} {
			_, err := capacity.Decide(internationalCamp(5, 3), data)
			if !errors.Is(err, capacity.ErrCountryUnresolvable) {
				t.Fatalf("got %v, want ErrCountryUnresolvable", err)
			}
		}
	})
}

func TestReleaseSymmetry(t *testing.T) {
	t.Run("national release restores the place", func(t *testing.T) {
		c := nationalCamp(5)

		claim, err := capacity.Decide(c, participant(""))
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		c.FreePlaces = claim.FreePlaces

		release, err := capacity.Release(c, participant(""), registration.StatusAccepted)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if release.FreePlaces.Value() != 5 {
			t.Fatalf("freePlaces = %v, want 5", release.FreePlaces)
		}
	})

	t.Run("release never exceeds the maximum", func(t *testing.T) {
		release, err := capacity.Release(nationalCamp(5), participant(""), registration.StatusAccepted)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if release.FreePlaces.Value() != 5 {
			t.Fatalf("freePlaces = %v, must stay capped at max", release.FreePlaces)
		}
	})

	t.Run("waitlisted registrations release nothing", func(t *testing.T) {
		release, err := capacity.Release(nationalCamp(0), participant(""), registration.StatusWaitlisted)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if release.Counted || release.FreePlaces.Value() != 0 {
			t.Fatalf("release = %+v", release)
		}
	})

	t.Run("staff releases nothing", func(t *testing.T) {
		release, err := capacity.Release(nationalCamp(2), staff(), registration.StatusAccepted)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if release.Counted {
			t.Fatalf("release = %+v", release)
		}
	})

	t.Run("international release targets only its bucket", func(t *testing.T) {
		release, err := capacity.Release(internationalCamp(4, 0), participant("fr"), registration.StatusAccepted)
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		fr, _ := release.FreePlaces.For("fr")
		de, _ := release.FreePlaces.For("de")
		if fr != 1 || de != 4 {
			t.Fatalf("freePlaces = %v", release.FreePlaces)
		}
	})
}

func TestWaitlistThreshold(t *testing.T) {
	// five places, six applicants: the sixth lands on the waiting list
	c := nationalCamp(5)

	for i := 0; i < 5; i++ {
		claim, err := capacity.Decide(c, participant(""))
		if err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
		if claim.Status != registration.StatusAccepted {
			t.Fatalf("applicant %d: %+v", i, claim)
		}
		c.FreePlaces = claim.FreePlaces
	}

	claim, err := capacity.Decide(c, participant(""))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if claim.Status != registration.StatusWaitlisted {
		t.Fatalf("sixth applicant = %+v", claim)
	}

	// a staff registration at the full camp is still accepted
	staffClaim, err := capacity.Decide(c, staff())
	if err != nil {
		t.Fatalf("decide staff: %v", err)
	}
	if staffClaim.Status != registration.StatusAccepted {
		t.Fatalf("staff = %+v", staffClaim)
	}
}
