package jobs

import (
	"encoding/json"
	"time"
)

// RegistrationEventPayload is the payload of every registration lifecycle
// job. The worker hands it to the notifier as-is; email composition happens
// on the other side of that interface.
type RegistrationEventPayload struct {
	RegistrationID string    `json:"registrationId"`
	CampID         string    `json:"campId"`
	CampName       string    `json:"campName"`
	Name           string    `json:"name,omitempty"`
	Emails         []string  `json:"emails"`
	Status         string    `json:"status"`
	Locale         string    `json:"locale,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// Helper to convert payload to json.RawMessage

func (p RegistrationEventPayload) ToJSONRaw() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
