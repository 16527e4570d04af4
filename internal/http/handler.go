package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"platesync-service/internal/detect"
	"platesync-service/internal/domain/plates"
	"platesync-service/internal/service"
	"platesync-service/internal/store"
)

const maxImportSize = 32 << 20

type Handler struct {
	store    *store.Store
	engine   *service.SyncEngine
	detector *detect.Client
	log      zerolog.Logger
}

func NewHandler(
	st *store.Store,
	engine *service.SyncEngine,
	detector *detect.Client,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		store:    st,
		engine:   engine,
		detector: detector,
		log:      log,
	}
}

func (h *Handler) Register(r *gin.Engine, sessionMiddleware gin.HandlerFunc) {
	api := r.Group("/api/v1")
	api.Use(sessionMiddleware)
	{
		api.POST("/plates/detect", h.detectPlate)
		api.GET("/plates", h.listPlates)
		api.PATCH("/plates/:id", h.updatePlate)
		api.POST("/plates/:id/verify", h.verifyPlate)
		api.DELETE("/plates/:id", h.deletePlate)
		api.DELETE("/plates", h.clearPlates)
		api.GET("/plates/export", h.exportPlates)
		api.POST("/plates/import", h.importPlates)
		api.POST("/sync", h.triggerSync)
	}
}

// detectPlate accepts a multipart image upload, forwards it to the
// recognition service and stores the resulting record locally. The remote
// push runs in the background.
func (h *Handler) detectPlate(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read image"))
		return
	}
	contentType := header.Header.Get("Content-Type")

	record, err := h.detector.Detect(c.Request.Context(), detect.RawBytes{
		Data:        data,
		ContentType: contentType,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	imageURL, err := h.store.SaveImage(record.ID, data, contentType)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save image locally")
	} else {
		record.ImageURL = imageURL
	}

	h.store.Add(record)
	h.engine.EnqueuePush(c.Request.Context(), record)

	c.JSON(http.StatusCreated, successResponse(record))
}

// listPlates returns the local records; ?sync=1 reconciles with the remote
// store first.
func (h *Handler) listPlates(c *gin.Context) {
	var records []plates.Record
	if c.Query("sync") == "1" {
		records = h.engine.PullAndMerge(c.Request.Context())
	} else {
		records = h.store.GetAll()
	}
	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) updatePlate(c *gin.Context) {
	id := c.Param("id")

	var update plates.RecordUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	h.store.Update(id, update)
	record, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("record not found"))
		return
	}

	h.engine.EnqueuePush(c.Request.Context(), record)
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) verifyPlate(c *gin.Context) {
	id := c.Param("id")

	verified := true
	h.store.Update(id, plates.RecordUpdate{IsVerified: &verified})
	record, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("record not found"))
		return
	}

	h.engine.EnqueuePush(c.Request.Context(), record)
	c.JSON(http.StatusOK, successResponse(record))
}

// deletePlate removes the record locally right away; the remote row and its
// image are deleted in the background, best-effort.
func (h *Handler) deletePlate(c *gin.Context) {
	id := c.Param("id")

	record, ok := h.store.Get(id)
	remaining := h.store.Delete(id)
	if ok && store.IsLocalImage(record.ImageURL) {
		h.store.DeleteImage(record.ImageURL)
	}

	if ok && h.engine.RemoteEnabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.engine.DeleteRemote(ctx, record); err != nil {
				h.log.Error().Err(err).Str("id", record.ID).Msg("remote delete failed")
			}
		}()
	}

	c.JSON(http.StatusOK, successResponse(remaining))
}

// clearPlates wipes local state, then attempts the remote wipe. A remote
// failure is reported but the local clear is never rolled back.
func (h *Handler) clearPlates(c *gin.Context) {
	h.store.ClearAll()

	if err := h.engine.ClearAllRemote(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Msg("failed to clear remote records")
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"warning": "local records cleared, remote clear failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) exportPlates(c *gin.Context) {
	data, err := h.store.Export()
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="plates.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) importPlates(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}

	records, err := h.store.Import(data)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(records))
}

// triggerSync pushes every unsynced record. Failures are logged per record
// and never abort the batch.
func (h *Handler) triggerSync(c *gin.Context) {
	h.engine.PushAllUnsynced(c.Request.Context())

	unsynced := 0
	for _, r := range h.store.GetAll() {
		if !r.Synced {
			unsynced++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"unsynced": unsynced,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrBadFormat), errors.Is(err, detect.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, detect.ErrUnavailable),
		errors.Is(err, service.ErrRemoteDatabase),
		errors.Is(err, service.ErrBlobStorage):
		h.log.Error().Err(err).Msg("upstream error")
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
