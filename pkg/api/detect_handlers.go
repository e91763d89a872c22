package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/inference"
	"github.com/lookout-vision/lookout/pkg/middleware"
)

const (
	MsgNoImageFile       = "No image file provided."
	MsgNoImageData       = "No image data provided."
	MsgUseDetectPost     = "Use POST to detect objects"
	MsgInternalDetection = "Internal Server Error processing detection request."
)

var (
	detectMessages = outboundMessages{
		failed:      "Detection service failed.",
		unavailable: "Detection service is unavailable.",
		internal:    MsgInternalDetection,
	}
	frameMessages = outboundMessages{
		failed:      "Frame detection failed.",
		unavailable: "Detection service unavailable.",
		internal:    "Internal Server Error processing frame.",
	}
)

// DetectHandlers proxies single-image and live-frame detection
type DetectHandlers struct {
	recorder         *history.Recorder
	inference        Inference
	storeFrameImages bool
	logger           logrus.FieldLogger
}

// NewDetectHandlers creates detection handlers. Frame images are kept on the
// history entry only when storeFrameImages is set.
func NewDetectHandlers(recorder *history.Recorder, client Inference, storeFrameImages bool, logger logrus.FieldLogger) *DetectHandlers {
	return &DetectHandlers{
		recorder:         recorder,
		inference:        client,
		storeFrameImages: storeFrameImages,
		logger:           logger,
	}
}

// RegisterRoutes registers detection routes behind protect
func (h *DetectHandlers) RegisterRoutes(router *mux.Router, protect Middleware) {
	router.Handle("/detect", protect(http.HandlerFunc(h.detect))).Methods(http.MethodPost)
	router.HandleFunc("/detect", h.detectWrongMethod).Methods(http.MethodGet)
	router.Handle("/detect-frame", protect(http.HandlerFunc(h.detectFrame))).Methods(http.MethodPost)
}

type detectResponse struct {
	Success    bool                  `json:"success"`
	LogID      string                `json:"logId"`
	Filename   string                `json:"filename,omitempty"`
	Detections []inference.Detection `json:"detections"`
}

// detect handles POST /api/detect
func (h *DetectHandlers) detect(w http.ResponseWriter, r *http.Request) {
	logger := httputil.LoggerFromContext(r.Context(), h.logger)
	identity, _ := middleware.IdentityFromContext(r.Context())

	if err := parseForm(r); err != nil {
		httputil.WriteFailure(w, http.StatusRequestEntityTooLarge, MsgUploadTooLarge, nil)
		return
	}
	files := formFiles(r, "image")
	if len(files) == 0 {
		httputil.WriteBadRequest(w, MsgNoImageFile)
		return
	}
	upload, err := readUpload(files[0])
	if err != nil {
		writeInternal(w, logger.WithField("step", "read upload"), MsgInternalDetection, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	run, err := h.recorder.Begin(ctx, &history.Entry{
		UserID:           identity.UserID,
		Type:             history.TypeDetection,
		DetectionSource:  history.SourceUpload,
		OriginalFilename: upload.Filename,
		ImageData:        dataURI(upload),
	})
	if err != nil {
		writeInternal(w, logger, MsgInternalDetection, err)
		return
	}
	if err := run.Processing(ctx); err != nil {
		failRun(ctx, w, logger, run, detectMessages, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"log_id":   run.ID(),
		"filename": upload.Filename,
		"bytes":    len(upload.Data),
	}).Info("Forwarding image to detection service")

	result, err := h.inference.Detect(ctx, upload)
	if err != nil {
		failRun(ctx, w, logger, run, detectMessages, err)
		return
	}

	if err := run.Succeed(ctx, func(e *history.Entry) {
		e.DetectionResults = toHistoryDetections(result.Detections)
	}); err != nil && finishFailed(ctx, w, logger, run, detectMessages, err) {
		return
	}

	filename := result.Filename
	if filename == "" {
		filename = upload.Filename
	}
	_ = httputil.WriteSuccess(w, detectResponse{
		Success:    true,
		LogID:      run.ID(),
		Filename:   filename,
		Detections: nonNilDetections(result.Detections),
	})
}

// detectWrongMethod handles GET /api/detect
func (h *DetectHandlers) detectWrongMethod(w http.ResponseWriter, r *http.Request) {
	httputil.WriteMessage(w, http.StatusMethodNotAllowed, MsgUseDetectPost)
}

// detectFrame handles POST /api/detect-frame. imageData is a base64 data URI
// and is forwarded as is.
func (h *DetectHandlers) detectFrame(w http.ResponseWriter, r *http.Request) {
	logger := httputil.LoggerFromContext(r.Context(), h.logger)
	identity, _ := middleware.IdentityFromContext(r.Context())

	if err := parseForm(r); err != nil {
		httputil.WriteFailure(w, http.StatusRequestEntityTooLarge, MsgUploadTooLarge, nil)
		return
	}
	imageData := strings.TrimSpace(r.FormValue("imageData"))
	if imageData == "" {
		httputil.WriteBadRequest(w, MsgNoImageData)
		return
	}

	entry := &history.Entry{
		UserID:          identity.UserID,
		Type:            history.TypeDetection,
		DetectionSource: history.SourceLiveFrame,
	}
	if h.storeFrameImages {
		entry.ImageData = imageData
	}

	ctx := context.WithoutCancel(r.Context())
	run, err := h.recorder.Begin(ctx, entry)
	if err != nil {
		writeInternal(w, logger, frameMessages.internal, err)
		return
	}
	if err := run.Processing(ctx); err != nil {
		failRun(ctx, w, logger, run, frameMessages, err)
		return
	}

	result, err := h.inference.DetectFrame(ctx, imageData)
	if err != nil {
		failRun(ctx, w, logger, run, frameMessages, err)
		return
	}

	if err := run.Succeed(ctx, func(e *history.Entry) {
		e.DetectionResults = toHistoryDetections(result.Detections)
	}); err != nil && finishFailed(ctx, w, logger, run, frameMessages, err) {
		return
	}

	_ = httputil.WriteSuccess(w, detectResponse{
		Success:    true,
		LogID:      run.ID(),
		Detections: nonNilDetections(result.Detections),
	})
}
