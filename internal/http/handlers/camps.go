package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/domain/camp"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/http/middlewares"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/postgres"
	"github.com/marvin-wtt/camp-registration-api/internal/utils"
)

type CampsRepository interface {
	Create(ctx context.Context, req camp.CreateCampRequest, managerID string) (camp.Camp, error)
	List(ctx context.Context, filter postgres.ListCampsFilter) ([]camp.Camp, int, error)
	GetByID(ctx context.Context, id string) (camp.Camp, error)
	Update(ctx context.Context, id string, req camp.UpdateCampRequest) (camp.Camp, error)
	Delete(ctx context.Context, id string) error
}

// ListCache is the optional read cache for the public listing. A nil cache
// disables caching entirely, which is what tests and single-node dev use.
type ListCache interface {
	GetString(ctx context.Context, key string) (string, bool)
	SetString(ctx context.Context, key, value string, ttl time.Duration)
}

type CampsHandler struct {
	repo  CampsRepository
	cache ListCache
}

const listCacheTTL = 30 * time.Second

func NewCampsHandler(repo CampsRepository, cache ListCache) *CampsHandler {
	return &CampsHandler{repo: repo, cache: cache}
}

// publicCampView strips manager-only fields from the public listing.
type publicCampView struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Organizer  string        `json:"organizer,omitempty"`
	Countries  []string      `json:"countries"`
	MinAge     int           `json:"minAge"`
	MaxAge     int           `json:"maxAge"`
	StartAt    time.Time     `json:"startAt"`
	EndAt      time.Time     `json:"endAt"`
	FreePlaces camp.Capacity `json:"freePlaces"`
}

func toPublicView(c camp.Camp) publicCampView {
	return publicCampView{
		ID:         c.ID,
		Name:       c.Name,
		Organizer:  c.Organizer,
		Countries:  c.Countries,
		MinAge:     c.MinAge,
		MaxAge:     c.MaxAge,
		StartAt:    c.StartAt,
		EndAt:      c.EndAt,
		FreePlaces: c.FreePlaces,
	}
}

func (h *CampsHandler) CreateCamp(ctx *gin.Context) {
	var req camp.CreateCampRequest

	if !BindJSON(ctx, &req) {
		return
	}

	managerID, ok := middlewares.UserIDFromContext(ctx)

	if !ok || managerID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	// reject broken forms at save time, not at submission time
	if _, err := form.Parse(req.Form); err != nil {
		var cfgErr *form.ConfigurationError
		if errors.As(err, &cfgErr) {
			RespondBadRequest(ctx, "invalid_form", gin.H{"reason": cfgErr.Detail})
			return
		}
		RespondBadRequest(ctx, "invalid_form", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	created, err := h.repo.Create(cctx, req, managerID)

	if err != nil {
		if errors.Is(err, camp.ErrCapacityShape) {
			RespondBadRequest(ctx, "invalid_capacity", "capacity shape must match the camp countries")
			return
		}
		RespondInternal(ctx, "Could not create camp")
		return
	}

	ctx.JSON(http.StatusCreated, created)
}

// ListCamps is the public listing: active, public camps only.
func (h *CampsHandler) ListCamps(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)
	if limit < 1 || limit > 100 {
		RespondBadRequest(ctx, "invalid_query", "limit must be between 1 and 100")
		return
	}
	offset := parseIntDefault(ctx.Query("offset"), 0)
	if offset < 0 {
		RespondBadRequest(ctx, "invalid_query", "offset must not be negative")
		return
	}

	filter := postgres.ListCampsFilter{
		PublicOnly: true,
		ActiveOnly: true,
		Limit:      limit,
		Offset:     offset,
	}

	if c := ctx.Query("country"); c != "" {
		filter.Country = &c
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	cacheKey := utils.BuildCampsListCacheKey(limit, offset, filter.Country)

	if h.cache != nil {
		if cached, ok := h.cache.GetString(cctx, cacheKey); ok {
			RespondRawJSONWithETag(ctx, http.StatusOK, []byte(cached))
			return
		}
	}

	camps, total, err := h.repo.List(cctx, filter)
	if err != nil {
		RespondInternal(ctx, "Could not list camps")
		return
	}

	items := make([]publicCampView, 0, len(camps))
	for _, c := range camps {
		items = append(items, toPublicView(c))
	}

	body, err := json.Marshal(gin.H{
		"items":  items,
		"count":  len(items),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})

	if err != nil {
		RespondInternal(ctx, "Could not list camps")
		return
	}

	if h.cache != nil {
		h.cache.SetString(cctx, cacheKey, string(body), listCacheTTL)
	}

	RespondRawJSONWithETag(ctx, http.StatusOK, body)
}

// GetCampById serves the registrant-facing camp page, form included.
// Unlisted or closed camps are a plain 404 here.
func (h *CampsHandler) GetCampById(ctx *gin.Context) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "camp id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return
		}
		RespondInternal(ctx, "Could not fetch camp")
		return
	}

	if !c.Public || !c.Active {
		RespondNotFound(ctx, "Camp not found")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"id":         c.ID,
		"name":       c.Name,
		"organizer":  c.Organizer,
		"countries":  c.Countries,
		"minAge":     c.MinAge,
		"maxAge":     c.MaxAge,
		"startAt":    c.StartAt,
		"endAt":      c.EndAt,
		"freePlaces": c.FreePlaces,
		"form":       c.Form,
	})
}

// GetManagedCamp returns the full camp row for its manager.
func (h *CampsHandler) GetManagedCamp(ctx *gin.Context) {
	c, ok := h.loadOwnedCamp(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, c)
}

func (h *CampsHandler) UpdateCamp(ctx *gin.Context) {
	c, ok := h.loadOwnedCamp(ctx)
	if !ok {
		return
	}

	var req camp.UpdateCampRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if _, err := form.Parse(req.Form); err != nil {
		var cfgErr *form.ConfigurationError
		if errors.As(err, &cfgErr) {
			RespondBadRequest(ctx, "invalid_form", gin.H{"reason": cfgErr.Detail})
			return
		}
		RespondBadRequest(ctx, "invalid_form", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	updated, err := h.repo.Update(cctx, c.ID, req)
	if err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return
		}
		RespondInternal(ctx, "Could not update camp")
		return
	}

	ctx.JSON(http.StatusOK, updated)
}

func (h *CampsHandler) DeleteCamp(ctx *gin.Context) {
	c, ok := h.loadOwnedCamp(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Delete(cctx, c.ID); err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return
		}
		RespondInternal(ctx, "Could not delete camp")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// loadOwnedCamp fetches the camp and enforces manager ownership with admin
// override. Responds and returns false on any failure.
func (h *CampsHandler) loadOwnedCamp(ctx *gin.Context) (camp.Camp, bool) {
	id := ctx.Param("id")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "camp id must be a valid UUID")
		return camp.Camp{}, false
	}

	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok || userID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return camp.Camp{}, false
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	c, err := h.repo.GetByID(cctx, id)
	if err != nil {
		if errors.Is(err, camp.ErrNotFound) {
			RespondNotFound(ctx, "Camp not found")
			return camp.Camp{}, false
		}
		RespondInternal(ctx, "Could not fetch camp")
		return camp.Camp{}, false
	}

	role, _ := middlewares.RoleFromContext(ctx)
	if role != "admin" && c.ManagerID != userID {
		RespondForbidden(ctx, "You can only manage your own camps")
		return camp.Camp{}, false
	}

	return c, true
}
