package notifications

import (
	"context"
	"errors"

	"github.com/marvin-wtt/camp-registration-api/internal/jobs"
)

// Message is one registration lifecycle notification, built from the outbox
// job payload by the worker.
type Message struct {
	Type           jobs.JobType
	RegistrationID string
	CampID         string
	CampName       string
	Name           string
	Emails         []string
	Status         string
	Locale         string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// delivery dedupe sentinels, surfaced by the deliveries repo
var (
	ErrAlreadySent = errors.New("notification already sent")
	ErrInProgress  = errors.New("notification delivery in progress")
)
