package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxErrorBody bounds how much of an error response is read for detail extraction
const maxErrorBody = 1 << 20

// Client calls the inference service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logrus.FieldLogger
	observe    func(endpoint, outcome string, elapsed time.Duration)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets a per-call timeout. Zero keeps the platform default (none).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithObserver registers a callback invoked after every call with the
// endpoint, an outcome label and the call duration
func WithObserver(observe func(endpoint, outcome string, elapsed time.Duration)) Option {
	return func(c *Client) {
		c.observe = observe
	}
}

// NewClient creates a client for the service at baseURL. Outbound requests
// are traced through otelhttp.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Detect sends one image as multipart field "file"
func (c *Client) Detect(ctx context.Context, upload Upload) (*DetectResult, error) {
	body, contentType, err := encodeForm(func(mw *multipart.Writer) error {
		return writeFile(mw, "file", upload)
	})
	if err != nil {
		return nil, err
	}

	var result DetectResult
	status, err := c.postForm(ctx, "/detect", body, contentType, &result)
	if err != nil {
		return nil, err
	}
	result.StatusCode = status
	return &result, nil
}

// DetectFrame sends a base64 webcam frame as multipart field "image_data"
func (c *Client) DetectFrame(ctx context.Context, imageData string) (*DetectResult, error) {
	body, contentType, err := encodeForm(func(mw *multipart.Writer) error {
		return mw.WriteField("image_data", imageData)
	})
	if err != nil {
		return nil, err
	}

	var result DetectResult
	status, err := c.postForm(ctx, "/detect-frame", body, contentType, &result)
	if err != nil {
		return nil, err
	}
	result.StatusCode = status
	return &result, nil
}

// UploadTrain sends labelled training images as "label" and repeated "files"
func (c *Client) UploadTrain(ctx context.Context, label string, uploads []Upload) (*TrainResult, error) {
	body, contentType, err := encodeForm(func(mw *multipart.Writer) error {
		if err := mw.WriteField("label", label); err != nil {
			return err
		}
		for _, u := range uploads {
			if err := writeFile(mw, "files", u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result TrainResult
	status, err := c.postForm(ctx, "/upload-train", body, contentType, &result)
	if err != nil {
		return nil, err
	}
	result.StatusCode = status
	return &result, nil
}

// History fetches the service's own history. Non-2xx answers are returned
// as *UpstreamError so the caller can pass the status through.
func (c *Client) History(ctx context.Context, limit, skip int) (*HistoryPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("skip", strconv.Itoa(skip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, "/history")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}
	return &HistoryPage{StatusCode: resp.StatusCode, Body: data}, nil
}

// Ping checks that the service answers on its root path
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.do(req, "/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// postForm returns the upstream status code of a successful call
func (c *Client) postForm(ctx context.Context, endpoint string, body *bytes.Buffer, contentType string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req, endpoint)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return resp.StatusCode, nil
}

// do sends req once and turns refused connections and non-2xx answers into
// ErrUnavailable and *UpstreamError
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			c.record(endpoint, "unavailable", start)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.record(endpoint, "transport_error", start)
		return nil, fmt.Errorf("inference request to %s failed: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		upstream := &UpstreamError{
			StatusCode: resp.StatusCode,
			Detail:     extractDetail(resp),
		}
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"detail":   upstream.Detail,
		}).Error("Inference service returned an error")
		c.record(endpoint, "upstream_error", start)
		return nil, upstream
	}

	c.record(endpoint, "ok", start)
	return resp, nil
}

func (c *Client) record(endpoint, outcome string, start time.Time) {
	if c.observe != nil {
		c.observe(endpoint, outcome, time.Since(start))
	}
}

// extractDetail prefers the JSON "detail" field, then the JSON body itself,
// then the status text
func extractDetail(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(data) > 0 {
		var parsed interface{}
		if json.Unmarshal(data, &parsed) == nil {
			if obj, ok := parsed.(map[string]interface{}); ok {
				if detail, ok := obj["detail"]; ok && detail != nil {
					if s, ok := detail.(string); ok {
						if s != "" {
							return s
						}
					} else if encoded, err := json.Marshal(detail); err == nil {
						return string(encoded)
					}
				}
			}
			if encoded, err := json.Marshal(parsed); err == nil {
				return string(encoded)
			}
		}
	}

	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

func encodeForm(write func(mw *multipart.Writer) error) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := write(mw); err != nil {
		return nil, "", fmt.Errorf("failed to encode form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to encode form: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeFile keeps the original content type so the service can reject
// non-images itself
func writeFile(mw *multipart.Writer, field string, u Upload) error {
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(u.Filename)))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(u.Data)
	return err
}
