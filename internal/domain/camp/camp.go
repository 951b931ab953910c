package camp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Camp struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Organizer       string          `json:"organizer,omitempty"`
	ManagerID       string          `json:"managerId"`
	Countries       []string        `json:"countries"`
	MinAge          int             `json:"minAge"`
	MaxAge          int             `json:"maxAge"`
	StartAt         time.Time       `json:"startAt"`
	EndAt           time.Time       `json:"endAt"`
	Active          bool            `json:"active"`
	Public          bool            `json:"public"`
	MaxParticipants Capacity        `json:"maxParticipants"`
	FreePlaces      Capacity        `json:"freePlaces"`
	Form            json.RawMessage `json:"form"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsNational reports whether the camp runs for a single country. National
// camps carry scalar capacity, international camps a per-country map.
func (c Camp) IsNational() bool {
	return len(c.Countries) == 1
}

var ErrNotFound = errors.New("camp not found")

// ErrVersionConflict is returned by capacity updates when the camp row was
// modified since it was read. Callers re-read the camp and retry.
var ErrVersionConflict = errors.New("camp version conflict")

var ErrCapacityShape = errors.New("capacity shape does not match camp countries")

type CreateCampRequest struct {
	Name            string          `json:"name" binding:"required,min=3,max=120"`
	Organizer       string          `json:"organizer" binding:"omitempty,max=120"`
	Countries       []string        `json:"countries" binding:"required,min=1,dive,len=2"`
	MinAge          int             `json:"minAge" binding:"min=0,max=120"`
	MaxAge          int             `json:"maxAge" binding:"required,min=1,max=120,gtefield=MinAge"`
	StartAt         time.Time       `json:"startAt" binding:"required"`
	EndAt           time.Time       `json:"endAt" binding:"required,gtefield=StartAt"`
	Public          bool            `json:"public"`
	MaxParticipants Capacity        `json:"maxParticipants"`
	Form            json.RawMessage `json:"form" binding:"required"`
}

// a full update payload, mirrors the create shape except capacity changes
// go through the dedicated capacity flow.
type UpdateCampRequest struct {
	Name      string    `json:"name" binding:"required,min=3,max=120"`
	Organizer string    `json:"organizer" binding:"omitempty,max=120"`
	MinAge    int       `json:"minAge" binding:"min=0,max=120"`
	MaxAge    int       `json:"maxAge" binding:"required,min=1,max=120,gtefield=MinAge"`
	StartAt   time.Time `json:"startAt" binding:"required"`
	EndAt     time.Time `json:"endAt" binding:"required,gtefield=StartAt"`
	Active    bool      `json:"active"`
	Public    bool      `json:"public"`
	Form      json.RawMessage `json:"form" binding:"required"`
}

// NewFromCreateRequest builds a Camp from the incoming DTO. Free places start
// out equal to max participants.
func NewFromCreateRequest(req CreateCampRequest, managerID string) (Camp, error) {
	if err := ValidateCapacityShape(req.Countries, req.MaxParticipants); err != nil {
		return Camp{}, err
	}

	now := time.Now().UTC()

	return Camp{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Organizer:       req.Organizer,
		ManagerID:       managerID,
		Countries:       req.Countries,
		MinAge:          req.MinAge,
		MaxAge:          req.MaxAge,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		Active:          true,
		Public:          req.Public,
		MaxParticipants: req.MaxParticipants,
		FreePlaces:      req.MaxParticipants.Clone(),
		Form:            req.Form,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ValidateCapacityShape enforces the invariant that scalar capacity belongs
// to single-country camps and per-country capacity covers exactly the
// configured countries.
func ValidateCapacityShape(countries []string, c Capacity) error {
	if len(countries) == 1 {
		if c.PerCountry() {
			return ErrCapacityShape
		}
		return nil
	}

	if !c.PerCountry() {
		return ErrCapacityShape
	}

	for _, country := range countries {
		if _, ok := c.For(country); !ok {
			return ErrCapacityShape
		}
	}

	if c.CountryCount() != len(countries) {
		return ErrCapacityShape
	}

	return nil
}
