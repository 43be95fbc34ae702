package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrBackend wraps any failure reported by the inference backend.
var ErrBackend = errors.New("caption backend error")

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ImageResult struct {
	Caption string `json:"caption"`
	Text    string `json:"text"`
}

type PageResult struct {
	Page    int    `json:"page"`
	Caption string `json:"caption"`
	OCRText string `json:"ocr_text"`
}

type PDFResult struct {
	Pages []PageResult `json:"pages"`
}

// Client talks to the inference backend that runs captioning and OCR.
type Client interface {
	CaptionImage(ctx context.Context, upload Upload) (*ImageResult, error)
	CaptionPDF(ctx context.Context, upload Upload) (*PDFResult, error)
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) Client {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) CaptionImage(ctx context.Context, upload Upload) (*ImageResult, error) {
	var out ImageResult
	if err := c.post(ctx, "/caption", upload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) CaptionPDF(ctx context.Context, upload Upload) (*PDFResult, error) {
	var out PDFResult
	if err := c.post(ctx, "/caption/pdf", upload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, upload Upload, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", upload.Filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%w: %s", ErrBackend, failure.Error)
		}
		return fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}
	return nil
}
