package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/marvin-wtt/camp-registration-api/internal/domain/job"
)

func EncodePayload(t JobType, payload any) ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}

	_, ok := payload.(RegistrationEventPayload)

	if !ok {
		_, ok2 := payload.(*RegistrationEventPayload)

		if !ok2 {
			return nil, ErrPayloadTypeMismatch
		}
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals job.Payload into the typed payload struct.
func DecodePayload(j job.Job) (RegistrationEventPayload, error) {
	if !JobType(j.Type).IsValid() {
		return RegistrationEventPayload{}, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return RegistrationEventPayload{}, ErrInvalidJobPayload
	}

	var p RegistrationEventPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return RegistrationEventPayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if p.RegistrationID == "" || p.CampID == "" {
		return RegistrationEventPayload{}, ErrInvalidJobPayload
	}

	return p, nil
}
