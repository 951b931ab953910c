package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marvin-wtt/camp-registration-api/internal/capacity"
	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/registration"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/http/middlewares"
	"github.com/marvin-wtt/camp-registration-api/internal/registrations"
	"github.com/marvin-wtt/camp-registration-api/internal/utils"
)

// RegistrationCoordinator is the lifecycle surface, implemented by
// registrations.Coordinator.
type RegistrationCoordinator interface {
	Create(ctx context.Context, req registration.CreateRequest) (registration.Registration, error)
	Update(ctx context.Context, campID, regID string, req registration.UpdateRequest) (registration.Registration, error)
	Delete(ctx context.Context, campID, regID string, suppressNotification bool) error
	AcceptWaitlisted(ctx context.Context, campID, regID string) (registration.Registration, error)
}

type RegistrationReader interface {
	ListByCampCursor(ctx context.Context, campID string, limit int, afterCreatedAt time.Time, afterID string) ([]registration.Registration, *string, bool, error)
	GetByID(ctx context.Context, campID, registrationID string) (registration.Registration, error)
	CountWaitlisted(ctx context.Context, campID string) (int, error)
}

type CampOwnershipReader interface {
	GetByID(ctx context.Context, id string) (camp.Camp, error)
}

type RegistrationsHandler struct {
	coord  RegistrationCoordinator
	reader RegistrationReader
	camps  CampOwnershipReader
}

func NewRegistrationsHandler(coord RegistrationCoordinator, reader RegistrationReader, camps CampOwnershipReader) *RegistrationsHandler {
	return &RegistrationsHandler{coord: coord, reader: reader, camps: camps}
}

// requireCampAccess enforces manager ownership with admin override on the
// manager-facing routes. Responds and returns false on any failure.
func (h *RegistrationsHandler) requireCampAccess(ctx *gin.Context, campID string) bool {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return false
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.camps.GetByID(cctx, campID)
	if err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return false
		}
		RespondInternal(ctx, "Could not fetch camp")
		return false
	}

	role, _ := middlewares.RoleFromContext(ctx)
	if role != "admin" && c.ManagerID != userID {
		RespondForbidden(ctx, "You can only manage your own camps")
		return false
	}

	return true
}

// callerManagesCamp reports whether the (optionally authenticated) caller
// owns the camp or is an admin. Anonymous callers and lookup failures are
// simply not authorized, the coordinator decides what that means.
func (h *RegistrationsHandler) callerManagesCamp(ctx *gin.Context, campID string) bool {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		return false
	}

	role, _ := middlewares.RoleFromContext(ctx)
	if role == "admin" {
		return true
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.camps.GetByID(cctx, campID)
	if err != nil {
		return false
	}

	return c.ManagerID == userID
}

// respondEngineError maps engine failures onto the API error envelope.
func respondEngineError(ctx *gin.Context, err error) {
	var verrs form.ValidationErrors
	if errors.As(err, &verrs) {
		RespondBadRequest(ctx, "validation_failed", gin.H{"fields": verrs})
		return
	}

	var cfgErr *form.ConfigurationError
	if errors.As(err, &cfgErr) {
		// an authoring bug in the stored form, nothing the registrant can fix
		RespondError(ctx, http.StatusInternalServerError, "form_misconfigured",
			"The camp form is misconfigured. Please contact the organizer.", nil)
		return
	}

	switch {
	case errors.Is(err, capacity.ErrCountryUnresolvable):
		RespondBadRequest(ctx, "country_unresolvable", "A country is required to register for this camp")
	case errors.Is(err, form.ErrFileNotFound):
		RespondBadRequest(ctx, "file_not_found", "An uploaded file reference is unknown or expired")
	case errors.Is(err, form.ErrFileAssigned):
		RespondConflict(ctx, "file_assigned", "An uploaded file already belongs to another registration")
	case errors.Is(err, registrations.ErrCampClosed), errors.Is(err, registrations.ErrCampNotVisible):
		// don't confirm the camp exists to callers who can't see it
		RespondNotFound(ctx, "Camp not found")
	case errors.Is(err, registrations.ErrCapacityConflict):
		RespondConflict(ctx, "capacity_conflict", "Too many concurrent registrations, please try again")
	case errors.Is(err, registrations.ErrNotWaitlisted):
		RespondConflict(ctx, "not_waitlisted", "Registration is not on the waiting list")
	case errors.Is(err, registrations.ErrNoCapacity):
		RespondConflict(ctx, "no_capacity", "No free place available for this registration")
	case errors.Is(err, camp.ErrNotFound):
		RespondNotFound(ctx, "Camp not found")
	case errors.Is(err, registration.ErrNotFound):
		RespondNotFound(ctx, "Registration not found")
	default:
		RespondInternal(ctx, "Could not process registration")
	}
}

// Register is the public submission endpoint.
func (h *RegistrationsHandler) Register(ctx *gin.Context) {
	campID := ctx.Param("id")

	if !utils.IsUUID(campID) {
		RespondBadRequest(ctx, "invalid_id", "camp id must be a valid UUID")
		return
	}

	var req registration.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// force URL param as the source of truth
	req.CampID = campID
	req.Authorized = h.callerManagesCamp(ctx, campID)

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	reg, err := h.coord.Create(cctx, req)
	if err != nil {
		respondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"id":          reg.ID,
		"campId":      reg.CampID,
		"status":      reg.Status,
		"waitingList": reg.Status == registration.StatusWaitlisted,
		"data":        reg.Data,
	})
}

// ListForCamp is the manager view, keyset paginated.
func (h *RegistrationsHandler) ListForCamp(ctx *gin.Context) {
	campID := ctx.Param("id")

	if !utils.IsUUID(campID) {
		RespondBadRequest(ctx, "invalid_id", "camp id must be a valid UUID")
		return
	}

	if !h.requireCampAccess(ctx, campID) {
		return
	}

	limit := parseIntDefault(ctx.Query("limit"), 50)
	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "invalid_query", "limit must be between 1 and 200")
		return
	}

	// ASC first-page sentinel
	afterCreatedAt := time.Time{}
	afterID := ""

	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeRegistrationCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "invalid_query", "cursor is invalid")
			return
		}
		afterCreatedAt = cur.CreatedAt
		afterID = cur.ID
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, next, hasMore, err := h.reader.ListByCampCursor(cctx, campID, limit, afterCreatedAt, afterID)
	if err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return
		}
		RespondInternal(ctx, "Could not list registrations")
		return
	}

	waitlisted, err := h.reader.CountWaitlisted(cctx, campID)
	if err != nil {
		RespondInternal(ctx, "Could not list registrations")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"campId":        campID,
		"count":         len(items),
		"waitlisted":    waitlisted,
		"registrations": items,
		"hasMore":       hasMore,
		"nextCursor":    next,
	})
}

func (h *RegistrationsHandler) GetByID(ctx *gin.Context) {
	campID := ctx.Param("id")
	regID := ctx.Param("registrationId")

	if !utils.IsUUID(campID) || !utils.IsUUID(regID) {
		RespondBadRequest(ctx, "invalid_id", "ids must be valid UUIDs")
		return
	}

	if !h.requireCampAccess(ctx, campID) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	reg, err := h.reader.GetByID(cctx, campID, regID)
	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			RespondNotFound(ctx, "Registration not found")
			return
		}
		RespondInternal(ctx, "Could not fetch registration")
		return
	}

	ctx.JSON(http.StatusOK, reg)
}

func (h *RegistrationsHandler) Update(ctx *gin.Context) {
	campID := ctx.Param("id")
	regID := ctx.Param("registrationId")

	if !utils.IsUUID(campID) || !utils.IsUUID(regID) {
		RespondBadRequest(ctx, "invalid_id", "ids must be valid UUIDs")
		return
	}

	if !h.requireCampAccess(ctx, campID) {
		return
	}

	var req registration.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if ctx.Query("suppressNotification") == "true" {
		req.SuppressNotification = true
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	reg, err := h.coord.Update(cctx, campID, regID, req)
	if err != nil {
		respondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, reg)
}

func (h *RegistrationsHandler) Delete(ctx *gin.Context) {
	campID := ctx.Param("id")
	regID := ctx.Param("registrationId")

	if !utils.IsUUID(campID) || !utils.IsUUID(regID) {
		RespondBadRequest(ctx, "invalid_id", "ids must be valid UUIDs")
		return
	}

	if !h.requireCampAccess(ctx, campID) {
		return
	}

	suppress := ctx.Query("suppressNotification") == "true"

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := h.coord.Delete(cctx, campID, regID, suppress); err != nil {
		respondEngineError(ctx, err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Accept promotes a waitlisted registration into a free place.
func (h *RegistrationsHandler) Accept(ctx *gin.Context) {
	campID := ctx.Param("id")
	regID := ctx.Param("registrationId")

	if !utils.IsUUID(campID) || !utils.IsUUID(regID) {
		RespondBadRequest(ctx, "invalid_id", "ids must be valid UUIDs")
		return
	}

	if !h.requireCampAccess(ctx, campID) {
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	reg, err := h.coord.AcceptWaitlisted(cctx, campID, regID)
	if err != nil {
		respondEngineError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, reg)
}
