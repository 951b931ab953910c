package jobs

import "github.com/marvin-wtt/camp-registration-api/internal/domain/registration"

type JobType string

// Registration lifecycle notifications, enqueued in the same transaction as
// the registration write and delivered by the worker after commit.
const (
	TypeRegistrationConfirmed  JobType = "registration_confirmed"
	TypeRegistrationWaitlisted JobType = "registration_waitlisted"
	TypeRegistrationUpdated    JobType = "registration_updated"
	TypeRegistrationCanceled   JobType = "registration_canceled"
	TypeWaitlistAccepted       JobType = "registration_waitlist_accepted"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case TypeRegistrationConfirmed, TypeRegistrationWaitlisted,
		TypeRegistrationUpdated, TypeRegistrationCanceled, TypeWaitlistAccepted:
		return true
	default:
		return false
	}
}

// TypeForStatus picks the creation notification matching the allocation
// outcome.
func TypeForStatus(status registration.Status) JobType {
	if status == registration.StatusWaitlisted {
		return TypeRegistrationWaitlisted
	}
	return TypeRegistrationConfirmed
}
