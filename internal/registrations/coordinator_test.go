package registrations_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/memory"
)

type stubResolver struct {
	refs map[string]form.FileRef
}

func (r *stubResolver) ResolvePendingFile(_ context.Context, token string) (form.FileRef, error) {
	if r.refs == nil {
		return form.FileRef{}, form.ErrFileNotFound
	}
	ref, ok := r.refs[token]
	if !ok {
		return form.FileRef{}, form.ErrFileNotFound
	}
	return ref, nil
}

const basicForm = `{
	"pages": [{
		"name": "general",
		"elements": [
			{"name": "first_name", "type": "text", "isRequired": true, "campDataType": "first_name"},
			{"name": "email", "type": "text", "isRequired": true, "campDataType": "email"},
			{"name": "role", "type": "dropdown", "campDataType": "role"},
			{"name": "country", "type": "dropdown", "campDataType": "country"}
		]
	}]
}`

func nationalCamp(t *testing.T, places int) camp.Camp {
	t.Helper()
	return camp.Camp{
		ID:              "camp-1",
		Name:            "Summer Camp",
		Countries:       []string{"de"},
		Active:          true,
		Public:          true,
		MaxParticipants: camp.ScalarCapacity(places),
		FreePlaces:      camp.ScalarCapacity(places),
		Form:            json.RawMessage(basicForm),
		Version:         1,
	}
}

func internationalCamp(t *testing.T, perCountry map[string]int) camp.Camp {
	t.Helper()
	countries := make([]string, 0, len(perCountry))
	for c := range perCountry {
		countries = append(countries, c)
	}
	return camp.Camp{
		ID:              "camp-intl",
		Name:            "Exchange Camp",
		Countries:       countries,
		Active:          true,
		Public:          true,
		MaxParticipants: camp.PerCountryCapacity(perCountry),
		FreePlaces:      camp.PerCountryCapacity(perCountry),
		Form:            json.RawMessage(basicForm),
		Version:         1,
	}
}

func submission(country string) map[string]any {
	return map[string]any{
		"first_name": "Alice",
		"email":      "alice@example.com",
		"country":    country,
	}
}

func newCoordinator(store *memory.Store) *registrations.Coordinator {
	return registrations.NewCoordinator(store, &stubResolver{}, nil)
}

func TestCreateAccepted(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 2))
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{
		CampID: "camp-1",
		Data:   submission("de"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Status != registration.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", reg.Status)
	}

	c, _ := store.GetCamp(context.Background(), "camp-1")
	if got := c.FreePlaces.Value(); got != 1 {
		t.Fatalf("free places = %d, want 1", got)
	}
	if c.Version != 2 {
		t.Fatalf("version = %d, want 2", c.Version)
	}

	out := store.Jobs()
	if len(out) != 1 || out[0].Type != jobs.TypeRegistrationConfirmed {
		t.Fatalf("outbox = %+v, want one registration_confirmed", out)
	}
	if out[0].Payload.Emails[0] != "alice@example.com" {
		t.Fatalf("payload emails = %v", out[0].Payload.Emails)
	}
}

func TestCreateWaitlistedWhenFull(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 1)
	c.FreePlaces = camp.ScalarCapacity(0)
	store.SeedCamp(c)
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{
		CampID: "camp-1",
		Data:   submission("de"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Status != registration.StatusWaitlisted {
		t.Fatalf("status = %s, want WAITLISTED", reg.Status)
	}

	got, _ := store.GetCamp(context.Background(), "camp-1")
	if got.Version != 1 {
		t.Fatalf("waitlisted create must not bump camp version, got %d", got.Version)
	}

	out := store.Jobs()
	if len(out) != 1 || out[0].Type != jobs.TypeRegistrationWaitlisted {
		t.Fatalf("outbox = %+v, want one registration_waitlisted", out)
	}
}

func TestCreateStaffBypassesCapacity(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 1)
	c.FreePlaces = camp.ScalarCapacity(0)
	store.SeedCamp(c)
	co := newCoordinator(store)

	data := submission("de")
	data["role"] = "counselor"

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: data})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Status != registration.StatusAccepted {
		t.Fatalf("staff status = %s, want ACCEPTED", reg.Status)
	}

	got, _ := store.GetCamp(context.Background(), "camp-1")
	if got.FreePlaces.Value() != 0 || got.Version != 1 {
		t.Fatalf("staff create must not touch counters: %+v", got.FreePlaces)
	}
}

func TestCreateInternationalBuckets(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(internationalCamp(t, map[string]int{"de": 0, "fr": 2}))
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-intl", Data: submission("de")})
	if err != nil {
		t.Fatalf("Create de: %v", err)
	}
	if reg.Status != registration.StatusWaitlisted {
		t.Fatalf("de bucket full, status = %s, want WAITLISTED", reg.Status)
	}

	reg, err = co.Create(context.Background(), registration.CreateRequest{CampID: "camp-intl", Data: submission("fr")})
	if err != nil {
		t.Fatalf("Create fr: %v", err)
	}
	if reg.Status != registration.StatusAccepted {
		t.Fatalf("fr bucket open, status = %s, want ACCEPTED", reg.Status)
	}

	c, _ := store.GetCamp(context.Background(), "camp-intl")
	if got, _ := c.FreePlaces.For("fr"); got != 1 {
		t.Fatalf("fr free places = %d, want 1", got)
	}
	if got, _ := c.FreePlaces.For("de"); got != 0 {
		t.Fatalf("de free places = %d, want 0", got)
	}
}

func TestCreateValidationErrorHasNoSideEffects(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 3))
	co := newCoordinator(store)

	_, err := co.Create(context.Background(), registration.CreateRequest{
		CampID: "camp-1",
		Data:   map[string]any{"email": "x@example.com", "country": "de"}, // first_name missing
	})

	var verrs form.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("err = %v, want ValidationErrors", err)
	}

	if got := len(store.Registrations("camp-1")); got != 0 {
		t.Fatalf("registrations = %d, want 0", got)
	}
	if got := len(store.Jobs()); got != 0 {
		t.Fatalf("outbox = %d, want 0", got)
	}
	c, _ := store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 3 || c.Version != 1 {
		t.Fatalf("camp counters changed on validation failure: %+v", c)
	}
}

func TestCreateInactiveCamp(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 3)
	c.Active = false
	store.SeedCamp(c)
	co := newCoordinator(store)

	_, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if !errors.Is(err, registrations.ErrCampClosed) {
		t.Fatalf("err = %v, want ErrCampClosed", err)
	}
}

func TestCreateUnlistedCamp(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 3)
	c.Public = false
	store.SeedCamp(c)
	co := newCoordinator(store)

	_, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if !errors.Is(err, registrations.ErrCampNotVisible) {
		t.Fatalf("err = %v, want ErrCampNotVisible", err)
	}
	if got := len(store.Registrations("camp-1")); got != 0 {
		t.Fatalf("registrations = %d, want 0", got)
	}

	// the owning manager still registers into an unlisted camp
	reg, err := co.Create(context.Background(), registration.CreateRequest{
		CampID:     "camp-1",
		Data:       submission("de"),
		Authorized: true,
	})
	if err != nil {
		t.Fatalf("Create authorized: %v", err)
	}
	if reg.Status != registration.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", reg.Status)
	}
}

func TestCreateIgnoresSubmittedStatus(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 1)
	c.FreePlaces = camp.ScalarCapacity(0)
	store.SeedCamp(c)
	co := newCoordinator(store)

	data := submission("de")
	data["status"] = "ACCEPTED"
	data["waitingList"] = false

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: data})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Status != registration.StatusWaitlisted {
		t.Fatalf("submitted status must not win: got %s", reg.Status)
	}
	if _, ok := reg.Data["status"]; ok {
		t.Fatal("reserved key leaked into stored data")
	}
}

func TestDeleteReleasesPlaceOnce(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 1))
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := co.Delete(context.Background(), "camp-1", reg.ID, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	c, _ := store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 1 {
		t.Fatalf("free places after delete = %d, want 1", c.FreePlaces.Value())
	}

	// second delete must not increment again
	err = co.Delete(context.Background(), "camp-1", reg.ID, false)
	if !errors.Is(err, registration.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
	c, _ = store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 1 {
		t.Fatalf("free places after double delete = %d, want 1", c.FreePlaces.Value())
	}

	var canceled int
	for _, j := range store.Jobs() {
		if j.Type == jobs.TypeRegistrationCanceled {
			canceled++
		}
	}
	if canceled != 1 {
		t.Fatalf("canceled notifications = %d, want 1", canceled)
	}
}

func TestDeleteWaitlistedDoesNotFreePlace(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 1)
	c.FreePlaces = camp.ScalarCapacity(0)
	store.SeedCamp(c)
	co := newCoordinator(store)

	reg, _ := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if reg.Status != registration.StatusWaitlisted {
		t.Fatalf("setup: status = %s", reg.Status)
	}

	if err := co.Delete(context.Background(), "camp-1", reg.ID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, _ := store.GetCamp(context.Background(), "camp-1")
	if got.FreePlaces.Value() != 0 {
		t.Fatalf("waitlisted delete freed a place: %d", got.FreePlaces.Value())
	}
}

func TestUpdateRoleChangeFreesPlace(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 1))
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := submission("de")
	data["role"] = "counselor"

	updated, err := co.Update(context.Background(), "camp-1", reg.ID, registration.UpdateRequest{Data: data})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != registration.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", updated.Status)
	}
	if updated.CampData.Role() != "counselor" {
		t.Fatalf("role = %s", updated.CampData.Role())
	}

	c, _ := store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 1 {
		t.Fatalf("participant place not released on role change: %d", c.FreePlaces.Value())
	}
}

func TestUpdateCountryChangeMovesBucket(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(internationalCamp(t, map[string]int{"de": 1, "fr": 1}))
	co := newCoordinator(store)

	reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-intl", Data: submission("de")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := co.Update(context.Background(), "camp-intl", reg.ID, registration.UpdateRequest{Data: submission("fr")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	c, _ := store.GetCamp(context.Background(), "camp-intl")
	if got, _ := c.FreePlaces.For("de"); got != 1 {
		t.Fatalf("de bucket = %d, want 1", got)
	}
	if got, _ := c.FreePlaces.For("fr"); got != 0 {
		t.Fatalf("fr bucket = %d, want 0", got)
	}
}

func TestUpdatePlainEditKeepsCapacityAndStatus(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 1)
	c.FreePlaces = camp.ScalarCapacity(0)
	store.SeedCamp(c)
	co := newCoordinator(store)

	reg, _ := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if reg.Status != registration.StatusWaitlisted {
		t.Fatalf("setup: status = %s", reg.Status)
	}

	data := submission("de")
	data["email"] = "new@example.com"

	updated, err := co.Update(context.Background(), "camp-1", reg.ID, registration.UpdateRequest{Data: data, SuppressNotification: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != registration.StatusWaitlisted {
		t.Fatalf("plain edit changed status to %s", updated.Status)
	}
	if updated.CampData.Emails()[0] != "new@example.com" {
		t.Fatalf("email not updated: %v", updated.CampData.Emails())
	}

	got, _ := store.GetCamp(context.Background(), "camp-1")
	if got.Version != 1 {
		t.Fatalf("plain edit bumped camp version to %d", got.Version)
	}
	for _, j := range store.Jobs() {
		if j.Type == jobs.TypeRegistrationUpdated {
			t.Fatal("suppressed update still enqueued a notification")
		}
	}
}

func TestAcceptWaitlisted(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 1))
	co := newCoordinator(store)

	first, _ := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	second, _ := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
	if second.Status != registration.StatusWaitlisted {
		t.Fatalf("setup: second status = %s", second.Status)
	}

	// no room yet
	if _, err := co.AcceptWaitlisted(context.Background(), "camp-1", second.ID); !errors.Is(err, registrations.ErrNoCapacity) {
		t.Fatalf("err = %v, want ErrNoCapacity", err)
	}

	// not waitlisted
	if _, err := co.AcceptWaitlisted(context.Background(), "camp-1", first.ID); !errors.Is(err, registrations.ErrNotWaitlisted) {
		t.Fatalf("err = %v, want ErrNotWaitlisted", err)
	}

	if err := co.Delete(context.Background(), "camp-1", first.ID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	promoted, err := co.AcceptWaitlisted(context.Background(), "camp-1", second.ID)
	if err != nil {
		t.Fatalf("AcceptWaitlisted: %v", err)
	}
	if promoted.Status != registration.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", promoted.Status)
	}

	c, _ := store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 0 {
		t.Fatalf("free places = %d, want 0", c.FreePlaces.Value())
	}

	last := store.Jobs()[len(store.Jobs())-1]
	if last.Type != jobs.TypeWaitlistAccepted {
		t.Fatalf("last job = %s, want %s", last.Type, jobs.TypeWaitlistAccepted)
	}
}

func TestCreateAssignsFiles(t *testing.T) {
	store := memory.NewStore()
	c := nationalCamp(t, 2)
	c.Form = json.RawMessage(`{
		"pages": [{"elements": [
			{"name": "first_name", "type": "text", "isRequired": true, "campDataType": "first_name"},
			{"name": "vaccination_card", "type": "file"}
		]}]
	}`)
	store.SeedCamp(c)
	store.SeedFile("file-42")

	co := registrations.NewCoordinator(store, &stubResolver{
		refs: map[string]form.FileRef{"tok-abc": {ID: "file-42", Name: "card.pdf"}},
	}, nil)

	reg, err := co.Create(context.Background(), registration.CreateRequest{
		CampID: "camp-1",
		Data:   map[string]any{"first_name": "Alice", "vaccination_card": "tok-abc"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if reg.Data["vaccination_card"] != "file-42" {
		t.Fatalf("file token not rewritten: %v", reg.Data["vaccination_card"])
	}
	owner, ok := store.FileOwner("file-42")
	if !ok || owner != reg.ID {
		t.Fatalf("file owner = %q, want %q", owner, reg.ID)
	}
}

// two racing submissions against one remaining place must end up with
// exactly one accepted and one waitlisted
func TestConcurrentCreatesSingleSlot(t *testing.T) {
	store := memory.NewStore()
	store.SeedCamp(nationalCamp(t, 1))
	co := newCoordinator(store)

	const n = 8
	results := make([]registration.Status, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg, err := co.Create(context.Background(), registration.CreateRequest{CampID: "camp-1", Data: submission("de")})
			results[i] = reg.Status
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var accepted, waitlisted, conflicts int
	for i := 0; i < n; i++ {
		switch {
		case errs[i] == nil && results[i] == registration.StatusAccepted:
			accepted++
		case errs[i] == nil && results[i] == registration.StatusWaitlisted:
			waitlisted++
		case errors.Is(errs[i], registrations.ErrCapacityConflict):
			conflicts++
		default:
			t.Fatalf("unexpected result: status=%s err=%v", results[i], errs[i])
		}
	}

	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1 (waitlisted=%d conflicts=%d)", accepted, waitlisted, conflicts)
	}

	c, _ := store.GetCamp(context.Background(), "camp-1")
	if c.FreePlaces.Value() != 0 {
		t.Fatalf("free places = %d, want 0", c.FreePlaces.Value())
	}
}
