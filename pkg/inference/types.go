package inference

import (
	"errors"
	"fmt"
)

// ErrUnavailable means the inference service refused the connection
var ErrUnavailable = errors.New("inference service unavailable")

// UpstreamError is a non-2xx answer from the inference service
type UpstreamError struct {
	StatusCode int
	// Detail is the "detail" field of a JSON body, the whole JSON body when
	// there is no such field, or the HTTP status text
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Detail)
}

// Detection is one detected object. Box coordinates are normalized to [0,1].
type Detection struct {
	BBoxNormalized [4]float64 `json:"bbox_normalized"`
	ClassID        int        `json:"class_id"`
	ClassName      string     `json:"class_name"`
	Confidence     float64    `json:"confidence"`
}

// DetectResult is the answer to /detect and /detect-frame
type DetectResult struct {
	Success    bool        `json:"success"`
	Filename   string      `json:"filename,omitempty"`
	Detections []Detection `json:"detections"`
	StatusCode int         `json:"-"`
}

// FileError reports one training file the service rejected
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func (e FileError) String() string {
	if e.Filename == "" {
		return e.Error
	}
	return e.Filename + ": " + e.Error
}

// TrainResult is the answer to /upload-train
type TrainResult struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	SavedCount     int         `json:"saved_count"`
	SavedFilenames []string    `json:"saved_filenames"`
	Errors         []FileError `json:"errors"`
	StatusCode     int         `json:"-"`
}

// Partial reports whether some but not all files were saved
func (r *TrainResult) Partial() bool {
	return r.SavedCount > 0 && len(r.Errors) > 0
}

// ErrorStrings flattens per-file errors as "filename: error"
func (r *TrainResult) ErrorStrings() []string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

// Upload is one file forwarded to the service
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// HistoryPage is the raw passthrough of the service's own history
type HistoryPage struct {
	StatusCode int
	Body       []byte
}
