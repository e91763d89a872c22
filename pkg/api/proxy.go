package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/inference"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling file parts to disk
const multipartMemory = 32 << 20

// MsgUploadTooLarge is returned when the body exceeds the upload limit
const MsgUploadTooLarge = "Upload too large."

// outboundMessages are the client-facing errors of one proxied endpoint
type outboundMessages struct {
	failed      string
	unavailable string
	internal    string
}

// outboundFailure classifies an error met after the entry exists. Only the
// inference service's own detail is echoed; anything else (transport, store)
// stays in the logs.
func outboundFailure(msgs outboundMessages, err error) (status int, message string, detail string) {
	upstream := asUpstream(err)
	switch {
	case errors.Is(err, inference.ErrUnavailable):
		return http.StatusServiceUnavailable, msgs.unavailable, ""
	case upstream != nil:
		return http.StatusBadGateway, msgs.failed, upstream.Detail
	default:
		return http.StatusInternalServerError, msgs.internal, ""
	}
}

// writeInternal logs err and answers 500 with message only
func writeInternal(w http.ResponseWriter, logger logrus.FieldLogger, message string, err error) {
	logger.WithError(err).Error(message)
	httputil.WriteFailure(w, http.StatusInternalServerError, message, nil)
}

func asUpstream(err error) *inference.UpstreamError {
	var upstream *inference.UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	return nil
}

// failRun records err on the entry, then answers the client. A failed
// history write is logged by the recorder and never changes the response.
func failRun(ctx context.Context, w http.ResponseWriter, logger logrus.FieldLogger, run *history.Run, msgs outboundMessages, err error) {
	status, message, detail := outboundFailure(msgs, err)

	recorded := detail
	if recorded == "" {
		recorded = message
	}
	run.Fail(ctx, recorded)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"log_id": run.ID(),
		"status": status,
	})
	if status == http.StatusServiceUnavailable {
		entry.Warn(message)
	} else {
		entry.Error(message)
	}

	httputil.WriteFailure(w, status, message, detail)
}

// finishFailed handles an error from the finishing write and reports whether
// the handler must stop. An entry the stale sweep already failed refuses the
// transition; the inference result is still good and is returned.
func finishFailed(ctx context.Context, w http.ResponseWriter, logger logrus.FieldLogger, run *history.Run, msgs outboundMessages, err error) bool {
	if errors.Is(err, history.ErrInvalidTransition) {
		logger.WithField("log_id", run.ID()).Warn("History entry was swept before the result arrived")
		return false
	}
	failRun(ctx, w, logger, run, msgs, err)
	return true
}

// parseForm reads a multipart or urlencoded body. Only an oversized body is
// reported; any other parse problem surfaces later as a missing field.
func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(multipartMemory)
	if err == nil {
		return nil
	}
	if isTooLarge(err) {
		return err
	}
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil && isTooLarge(err) {
			return err
		}
	}
	return nil
}

func isTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return true
	}
	// some multipart read paths flatten the MaxBytesReader error to text
	return strings.Contains(err.Error(), "request body too large")
}

// formFiles returns the uploaded files under field, skipping empty parts
func formFiles(r *http.Request, field string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var files []*multipart.FileHeader
	for _, fh := range r.MultipartForm.File[field] {
		if fh != nil && fh.Size > 0 {
			files = append(files, fh)
		}
	}
	return files
}

// readUpload loads one file part into memory
func readUpload(fh *multipart.FileHeader) (inference.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return inference.Upload{}, fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return inference.Upload{}, fmt.Errorf("failed to read upload %q: %w", fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return inference.Upload{
		Filename:    fh.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// dataURI renders an upload as data:<mime>;base64,<payload>
func dataURI(u inference.Upload) string {
	return "data:" + u.ContentType + ";base64," + base64.StdEncoding.EncodeToString(u.Data)
}

func toHistoryDetections(in []inference.Detection) []history.Detection {
	out := make([]history.Detection, len(in))
	for i, d := range in {
		out[i] = history.Detection{
			BBoxNormalized: d.BBoxNormalized,
			ClassID:        d.ClassID,
			ClassName:      d.ClassName,
			Confidence:     d.Confidence,
		}
	}
	return out
}

func nonNilDetections(in []inference.Detection) []inference.Detection {
	if in == nil {
		return []inference.Detection{}
	}
	return in
}
