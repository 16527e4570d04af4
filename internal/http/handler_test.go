package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platesync-service/internal/config"
	"platesync-service/internal/detect"
	"platesync-service/internal/domain/plates"
	"platesync-service/internal/service"
	"platesync-service/internal/store"
)

func newTestRouter(t *testing.T, detectorURL string) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	session := func(ctx context.Context) (string, bool) { return "", false }
	engine := service.NewSyncEngine(st, nil, nil, session, zerolog.Nop())
	t.Cleanup(engine.Close)

	detector := detect.NewClient(config.DetectorConfig{
		BaseURL:    detectorURL,
		Timeout:    2 * time.Second,
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())

	router := gin.New()
	handler := NewHandler(st, engine, detector, zerolog.Nop())
	handler.Register(router, func(c *gin.Context) { c.Next() })
	return router, st
}

func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "plate.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func seedRecord(st *store.Store, id string) plates.Record {
	r := plates.Record{
		ID:          id,
		PlateNumber: "ABC 1234",
		Timestamp:   time.Now().UTC(),
		Confidence:  0.95,
	}
	st.Add(r)
	return r
}

func TestDetectEndpoint(t *testing.T) {
	detector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":1,"plates":[{"bbox":[1,2,3,4],"raw_text":["ABC","1234"],"letters":"ABC","numbers":"1234"}]}`))
	}))
	defer detector.Close()

	router, st := newTestRouter(t, detector.URL)

	body, contentType := multipartImage(t, "image", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plates/detect", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Data plates.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ABC 1234", resp.Data.PlateNumber)
	assert.True(t, store.IsLocalImage(resp.Data.ImageURL))
	assert.False(t, resp.Data.Synced)

	stored := st.GetAll()
	require.Len(t, stored, 1)
	assert.Equal(t, resp.Data.ID, stored[0].ID)
}

func TestDetectEndpoint_MissingImage(t *testing.T) {
	router, _ := newTestRouter(t, "http://localhost:0")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plates/detect", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectEndpoint_DetectorDown(t *testing.T) {
	router, _ := newTestRouter(t, "http://127.0.0.1:1")

	body, contentType := multipartImage(t, "image", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plates/detect", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListPlates(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")
	seedRecord(st, "b")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plates", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []plates.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}

func TestUpdatePlate(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")

	payload := `{"notes":"gate 3","location":"north lot"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/plates/a", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	record, ok := st.Get("a")
	require.True(t, ok)
	assert.Equal(t, "gate 3", record.Notes)
	assert.Equal(t, "north lot", record.Location)
	assert.False(t, record.Synced)
}

func TestUpdatePlate_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/plates/missing", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyPlate(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plates/a/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	record, _ := st.Get("a")
	assert.True(t, record.IsVerified)
}

func TestDeletePlate(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")
	seedRecord(st, "b")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/plates/a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	_, ok := st.Get("a")
	assert.False(t, ok)
	_, ok = st.Get("b")
	assert.True(t, ok)
}

func TestClearPlates(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/plates", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, st.GetAll())
}

func TestExportImport(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plates/export", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "plates.json")

	exported := w.Body.Bytes()

	st.ClearAll()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/plates/import", bytes.NewReader(exported))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	records := st.GetAll()
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
	assert.False(t, records[0].Synced)
}

func TestImport_BadPayload(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/plates/import", bytes.NewBufferString(`{"not":"an array"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerSync_CountsUnsynced(t *testing.T) {
	router, st := newTestRouter(t, "")
	seedRecord(st, "a")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Unsynced int `json:"unsynced"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Unsynced, "no remote configured, records stay unsynced")
}
