// Attachment upload and download endpoints.
//
// Upload is multipart: one or more "files" parts plus an optional "content"
// field. The blobs are written to the store first, then a single message
// carrying every attachment is sent through the dispatch path, so live
// subscribers see the upload as one NEW_MESSAGE event. Download streams the
// stored blob with a Content-Disposition carrying the original file name.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haechan419/smartspend-chat/internal/http/middleware"
	"github.com/haechan419/smartspend-chat/internal/repo"
	"github.com/haechan419/smartspend-chat/internal/services"
	"github.com/haechan419/smartspend-chat/internal/storage"
)

// MaxUploadBytes caps the total size of one multipart upload request.
const MaxUploadBytes = 32 << 20

// UploadHandler serves attachment upload and download. It owns the blob
// store; message persistence and authorization go through MessageService.
type UploadHandler struct {
	store    storage.BlobStore
	messages *services.MessageService
}

// NewUploadHandler constructs an UploadHandler.
func NewUploadHandler(store storage.BlobStore, messages *services.MessageService) *UploadHandler {
	return &UploadHandler{store: store, messages: messages}
}

// Upload handles POST /rooms/{id}/attachments.
func (h *UploadHandler) Upload(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one file is required")
		return
	}
	content := c.PostForm("content")

	atts := make([]repo.NewAttachment, 0, len(files))
	for _, fh := range files {
		att, err := h.storeOne(roomID, fh)
		if err != nil {
			h.discard(c, atts)
			fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, "could not store file")
			return
		}
		atts = append(atts, att)
	}

	msg, err := h.messages.Send(c.Request.Context(), roomID, me, content, atts)
	if err != nil {
		// The message never committed; reclaim the blobs.
		h.discard(c, atts)
		switch {
		case errors.Is(err, services.ErrForbidden):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
		case errors.Is(err, services.ErrRoomNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "room not found")
		case errors.Is(err, services.ErrTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, "send failed, retry")
		}
		return
	}
	respond(c, http.StatusCreated, msg)
}

// discard deletes already-stored blobs after a failed upload.
func (h *UploadHandler) discard(c *gin.Context, atts []repo.NewAttachment) {
	for _, att := range atts {
		if err := h.store.Remove(att.StorageKey); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).
				Str("key", att.StorageKey).Msg("orphaned blob cleanup failed")
		}
	}
}

func (h *UploadHandler) storeOne(roomID int64, fh *multipart.FileHeader) (repo.NewAttachment, error) {
	src, err := fh.Open()
	if err != nil {
		return repo.NewAttachment{}, err
	}
	defer src.Close()

	stored, err := h.store.Store(roomID, fh.Filename, src)
	if err != nil {
		return repo.NewAttachment{}, err
	}
	mime := fh.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return repo.NewAttachment{
		OriginalName: fh.Filename,
		StoredName:   stored.StoredName,
		MimeType:     mime,
		SizeBytes:    fh.Size,
		StorageKey:   stored.Key,
	}, nil
}

// Download handles GET /attachments/{id}/download, streaming the blob to
// the caller. Only members of the attachment's room may download it.
func (h *UploadHandler) Download(c *gin.Context) {
	me, ok := principal(c)
	if !ok {
		return
	}
	attID, ok := pathID(c, "id")
	if !ok {
		return
	}

	att, err := h.messages.Attachment(c.Request.Context(), attID, me)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAttachmentNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "attachment not found")
		case errors.Is(err, services.ErrForbidden):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a room member")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load attachment")
		}
		return
	}

	rc, err := h.store.Open(att.StorageKey)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "file is no longer available")
		return
	}
	defer rc.Close()

	c.Header("Content-Type", att.MimeType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalName))
	if att.SizeBytes > 0 {
		c.Header("Content-Length", fmt.Sprintf("%d", att.SizeBytes))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		// Headers are already out; nothing left to do but log.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("attachment stream interrupted")
	}
}
