// Package detect is the client for the external plate-recognition service.
// Recognition itself is delegated entirely to that service; this client only
// normalizes input, enforces timeouts and maps the wire response to a record.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"platesync-service/internal/config"
	"platesync-service/internal/domain/plates"
	"platesync-service/internal/utils"
)

const maxImageSize = 10 * 1024 * 1024

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrUnavailable  = errors.New("detection service unavailable")
)

// ImageSource is a closed set of image inputs, resolved to raw bytes at the
// boundary before anything enters the client.
type ImageSource interface {
	resolve() ([]byte, string, error)
}

// RawBytes is image data already held in memory.
type RawBytes struct {
	Data        []byte
	ContentType string
}

func (s RawBytes) resolve() ([]byte, string, error) {
	return s.Data, s.ContentType, nil
}

// FilePath is an image on the local filesystem.
type FilePath string

func (s FilePath) resolve() ([]byte, string, error) {
	data, err := os.ReadFile(string(s))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, contentTypeForExt(filepath.Ext(string(s))), nil
}

// Fetched is an image body already retrieved from elsewhere. The reader is
// consumed and closed by the client.
type Fetched struct {
	Body        io.ReadCloser
	ContentType string
}

func (s Fetched) resolve() ([]byte, string, error) {
	defer s.Body.Close()
	data, err := io.ReadAll(s.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, s.ContentType, nil
}

func contentTypeForExt(ext string) string {
	if strings.EqualFold(ext, ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewClient(cfg config.DetectorConfig, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log,
	}
}

// Detect sends the image to the recognition service and returns a fresh
// record for the first detected plate. A zero-count response yields the
// NO_PLATE_DETECTED sentinel record with confidence 0.
func (c *Client) Detect(ctx context.Context, src ImageSource) (plates.Record, error) {
	data, contentType, err := src.resolve()
	if err != nil {
		return plates.Record{}, err
	}
	if len(data) == 0 {
		return plates.Record{}, fmt.Errorf("%w: image is empty", ErrInvalidImage)
	}
	if len(data) > maxImageSize {
		return plates.Record{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, maxImageSize)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	resp, err := c.postWithRetry(ctx, data)
	if err != nil {
		return plates.Record{}, err
	}

	record := plates.Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	if resp.Count == 0 || len(resp.Plates) == 0 {
		record.PlateNumber = plates.NoPlateNumber
		record.Confidence = 0
		return record, nil
	}

	first := resp.Plates[0]
	record.PlateNumber = utils.PlateNumber(first.Letters, first.Numbers)
	record.Letters = first.Letters
	record.Numbers = first.Numbers
	record.BBox = first.BBox
	record.Confidence = 0.95
	return record, nil
}

func (c *Client) postWithRetry(ctx context.Context, image []byte) (*plates.DetectResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("retrying detection request")
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		resp, err := c.post(ctx, image)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Only network-class failures are retried; a malformed response or
		// an HTTP error status surfaces immediately.
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, image []byte) (*plates.DetectResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("detection service returned %d", resp.StatusCode)
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error != "" {
			msg += ": " + errBody.Error
		}
		return nil, errors.New(msg)
	}

	var result plates.DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}
	return &result, nil
}
