package registration

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAccepted   Status = "ACCEPTED"
	StatusWaitlisted Status = "WAITLISTED"
)

// RoleParticipant is the canonical role that counts against camp capacity.
// Any other non-empty role (counselor, kitchen, ...) is staff and bypasses
// the capacity check entirely.
const RoleParticipant = "participant"

type Registration struct {
	ID        string         `json:"id"`
	CampID    string         `json:"campId"`
	Data      map[string]any `json:"data"`
	CampData  CampData       `json:"campData"`
	Status    Status         `json:"status"`
	Locale    string         `json:"locale,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
}

var ErrNotFound = errors.New("registration not found")

// CampData is the canonical projection of a validated submission: each
// campDataType tag collects the values of every field carrying it, in
// schema declaration order. Multi-valued keys are the norm (two guardian
// emails, repeated emergency contacts), hence lists.
type CampData map[string][]any

// Canonical camp data keys. Camp authors tag arbitrary field names with
// these so the engine can find names, emails and countries in any form.
const (
	KeyFirstName   = "first_name"
	KeyLastName    = "last_name"
	KeyFullName    = "full_name"
	KeyEmail       = "email"
	KeyGender      = "gender"
	KeyDateOfBirth = "date_of_birth"
	KeyRole        = "role"
	KeyAddress     = "address"
	KeyStreet      = "street"
	KeyCity        = "city"
	KeyZipCode     = "zip_code"
	KeyCountry     = "country"
)

func (d CampData) first(key string) (any, bool) {
	vs, ok := d[key]
	if !ok || len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

func (d CampData) firstString(key string) string {
	v, ok := d.first(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Role returns the canonical role, defaulting to participant when no field
// was tagged role or the submitted value was empty.
func (d CampData) Role() string {
	role := strings.ToLower(strings.TrimSpace(d.firstString(KeyRole)))
	if role == "" {
		return RoleParticipant
	}
	return role
}

func (d CampData) IsParticipant() bool {
	return d.Role() == RoleParticipant
}

// Country returns the registrant's country. A value tagged country always
// wins over an address sub-value, whatever their declaration order; the
// address country is a fallback only. Among several country-tagged fields
// the first-declared one wins, since the projection appends in schema
// order.
func (d CampData) Country() string {
	if c := strings.TrimSpace(d.firstString(KeyCountry)); c != "" {
		return c
	}

	v, ok := d.first(KeyAddress)
	if !ok {
		return ""
	}
	addr, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	c, _ := addr[KeyCountry].(string)
	return strings.TrimSpace(c)
}

// Emails collects every value tagged email, used for confirmation
// recipients and reply-to.
func (d CampData) Emails() []string {
	vs := d[KeyEmail]
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Name assembles a display name from whichever name tags the form carries.
func (d CampData) Name() string {
	if full := d.firstString(KeyFullName); full != "" {
		return full
	}

	first := d.firstString(KeyFirstName)
	last := d.firstString(KeyLastName)

	return strings.TrimSpace(first + " " + last)
}

type CreateRequest struct {
	CampID string         `json:"-"`
	Data   map[string]any `json:"data" binding:"required"`
	Locale string         `json:"locale" binding:"omitempty,min=2,max=5"`

	// Authorized marks the caller as the owning manager or an admin. Set
	// from the verified identity, never bindable from the body.
	Authorized bool `json:"-"`
}

type UpdateRequest struct {
	Data                 map[string]any `json:"data" binding:"required"`
	SuppressNotification bool           `json:"suppressNotification"`
}

// New builds a Registration from validated form output. Status comes from
// the capacity allocation outcome, never from the submitter.
func New(campID string, data map[string]any, campData CampData, status Status, locale string) Registration {
	now := time.Now().UTC()

	return Registration{
		ID:        uuid.NewString(),
		CampID:    campID,
		Data:      data,
		CampData:  campData,
		Status:    status,
		Locale:    locale,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
