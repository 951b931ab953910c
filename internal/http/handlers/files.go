package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/marvin-wtt/camp-registration-api/internal/config"
	"github.com/marvin-wtt/camp-registration-api/internal/form"
	"github.com/marvin-wtt/camp-registration-api/internal/repo/postgres"
	"github.com/marvin-wtt/camp-registration-api/internal/utils"
)

type FilesRepository interface {
	CreatePending(ctx context.Context, name, contentType string, size int64, storagePath string) (postgres.File, error)
	GetByID(ctx context.Context, id string) (postgres.File, error)
}

// FilesHandler accepts uploads before the form submission that references
// them. The upload response carries a one-time token; the registrant embeds
// it in a file field and the engine re-parents the file at commit.
type FilesHandler struct {
	repo      FilesRepository
	uploadDir string
	maxBytes  int64
}

func NewFilesHandler(repo FilesRepository, uploadDir string, maxBytes int64) *FilesHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	return &FilesHandler{
		repo:      repo,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
	}
}

func (h *FilesHandler) Upload(ctx *gin.Context) {
	header, err := ctx.FormFile("file")

	if err != nil {
		RespondBadRequest(ctx, "missing_file", "multipart field 'file' is required")
		return
	}

	if header.Size > h.maxBytes {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "file_too_large", "Uploaded file exceeds the size limit", gin.H{
			"maxBytes": h.maxBytes,
		})
		return
	}

	src, err := header.Open()

	if err != nil {
		RespondInternal(ctx, "Could not read upload")
		return
	}
	defer src.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		RespondInternal(ctx, "Could not store upload")
		return
	}

	// storage name is ours, the client name is metadata only
	storagePath := filepath.Join(h.uploadDir, uuid.NewString())

	dst, err := os.Create(storagePath)

	if err != nil {
		RespondInternal(ctx, "Could not store upload")
		return
	}

	written, err := io.Copy(dst, io.LimitReader(src, h.maxBytes+1))
	closeErr := dst.Close()

	if err != nil || closeErr != nil || written > h.maxBytes {
		_ = os.Remove(storagePath)

		if written > h.maxBytes {
			RespondError(ctx, http.StatusRequestEntityTooLarge, "file_too_large", "Uploaded file exceeds the size limit", nil)
			return
		}
		RespondInternal(ctx, "Could not store upload")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	f, err := h.repo.CreatePending(cctx, filepath.Base(header.Filename), contentType, written, storagePath)

	if err != nil {
		_ = os.Remove(storagePath)
		RespondInternal(ctx, "Could not store upload")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"token":       f.Token,
		"name":        f.Name,
		"contentType": f.ContentType,
		"size":        f.Size,
	})
}

// Download streams a stored file. Manager-only route, the public never
// reads files back.
func (h *FilesHandler) Download(ctx *gin.Context) {
	id := ctx.Param("fileId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "file id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	f, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, form.ErrFileNotFound) {
			RespondNotFound(ctx, "File not found")
			return
		}
		RespondInternal(ctx, "Could not fetch file")
		return
	}

	ctx.FileAttachment(f.StoragePath, f.Name)
}

func (h *FilesHandler) GetMetadata(ctx *gin.Context) {
	id := ctx.Param("fileId")

	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", "file id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	f, err := h.repo.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, form.ErrFileNotFound) {
			RespondNotFound(ctx, "File not found")
			return
		}
		RespondInternal(ctx, "Could not fetch file")
		return
	}

	ctx.JSON(http.StatusOK, f)
}
