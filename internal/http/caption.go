package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"caption-api/internal/caption"
	"caption-api/internal/storage"
)

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

func (h *Handler) captionImage(c *gin.Context) {
	upload, ok := h.readUpload(c)
	if !ok {
		return
	}
	identity, ok := identityFrom(c)
	if !ok {
		unauthorized(c)
		return
	}

	result, err := h.captions.CaptionImage(c.Request.Context(), identity, upload)
	if err != nil {
		h.writeCaptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) captionPDF(c *gin.Context) {
	upload, ok := h.readUpload(c)
	if !ok {
		return
	}
	identity, ok := identityFrom(c)
	if !ok {
		unauthorized(c)
		return
	}

	result, err := h.captions.CaptionPDF(c.Request.Context(), identity, upload)
	if err != nil {
		h.writeCaptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listUploads(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		unauthorized(c)
		return
	}

	objects, err := h.captions.ListUploads(c.Request.Context(), identity)
	if err != nil {
		h.writeCaptionError(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteUploads(c *gin.Context) {
	identity, ok := identityFrom(c)
	if !ok {
		unauthorized(c)
		return
	}

	deleted, err := h.captions.DeleteUploads(c.Request.Context(), identity)
	if err != nil {
		h.writeCaptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) readUpload(c *gin.Context) (caption.Upload, bool) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return caption.Upload{}, false
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "file is required"})
		return caption.Upload{}, false
	}

	file, err := header.Open()
	if err != nil {
		h.internalError(c, err)
		return caption.Upload{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.internalError(c, err)
		return caption.Upload{}, false
	}

	return caption.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true
}

func (h *Handler) writeCaptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, caption.ErrEmptyUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": caption.ErrEmptyUpload.Error()})
	case errors.Is(err, caption.ErrArchiveDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": caption.ErrArchiveDisabled.Error()})
	case errors.Is(err, caption.ErrBackend):
		h.logger.WithError(err).Warn("caption backend failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.internalError(c, err)
	}
}
