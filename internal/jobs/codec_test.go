package jobs_test

import (
	"errors"
	"testing"
	"time"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/job"
	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
)

func TestEncodeDecodePayload(t *testing.T) {
	p := jobs.RegistrationEventPayload{
		RegistrationID: "reg-1",
		CampID:         "camp-1",
		CampName:       "Summer Camp",
		Name:           "Ada",
		Emails:         []string{"ada@example.org"},
		Status:         "ACCEPTED",
		RequestedAt:    time.Now().UTC().Truncate(time.Second),
	}

	raw, err := jobs.EncodePayload(jobs.TypeRegistrationConfirmed, p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := jobs.DecodePayload(job.Job{
		Type:    string(jobs.TypeRegistrationConfirmed),
		Payload: raw,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.RegistrationID != p.RegistrationID || got.CampID != p.CampID {
		t.Fatalf("got %+v, want %+v", got, p)
	}
	if len(got.Emails) != 1 || got.Emails[0] != "ada@example.org" {
		t.Fatalf("emails = %v", got.Emails)
	}
}

func TestEncodePayloadRejectsUnknownType(t *testing.T) {
	_, err := jobs.EncodePayload(JobTypeUnknown(), jobs.RegistrationEventPayload{})
	if !errors.Is(err, jobs.ErrInvalidJobType) {
		t.Fatalf("got %v, want ErrInvalidJobType", err)
	}
}

func JobTypeUnknown() jobs.JobType { return jobs.JobType("export_csv") }

func TestEncodePayloadRejectsWrongStruct(t *testing.T) {
	_, err := jobs.EncodePayload(jobs.TypeRegistrationConfirmed, struct{ X int }{1})
	if !errors.Is(err, jobs.ErrPayloadTypeMismatch) {
		t.Fatalf("got %v, want ErrPayloadTypeMismatch", err)
	}
}

func TestDecodePayloadRejectsEmptyOrPartial(t *testing.T) {
	_, err := jobs.DecodePayload(job.Job{Type: string(jobs.TypeRegistrationCanceled)})
	if !errors.Is(err, jobs.ErrInvalidJobPayload) {
		t.Fatalf("got %v, want ErrInvalidJobPayload", err)
	}

	_, err = jobs.DecodePayload(job.Job{
		Type:    string(jobs.TypeRegistrationCanceled),
		Payload: []byte(`{"campId":"c1"}`),
	})
	if !errors.Is(err, jobs.ErrInvalidJobPayload) {
		t.Fatalf("got %v, want ErrInvalidJobPayload", err)
	}
}

func TestTypeForStatus(t *testing.T) {
	if jobs.TypeForStatus("WAITLISTED") != jobs.TypeRegistrationWaitlisted {
		t.Fatal("waitlisted status must map to the waitlist notification")
	}
	if jobs.TypeForStatus("ACCEPTED") != jobs.TypeRegistrationConfirmed {
		t.Fatal("accepted status must map to the confirmation notification")
	}
}
