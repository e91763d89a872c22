package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/archive"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/inference"
	"github.com/lookout-vision/lookout/pkg/middleware"
)

const (
	MsgNoImageFiles  = "No image files provided."
	MsgLabelRequired = "Object label is required."
)

var trainMessages = outboundMessages{
	failed:      "Training upload failed.",
	unavailable: "Training upload service unavailable.",
	internal:    "Internal Server Error processing training upload.",
}

// TrainHandlers proxies labelled training uploads
type TrainHandlers struct {
	recorder  *history.Recorder
	inference Inference
	archive   archive.Archive
	logger    logrus.FieldLogger
}

// NewTrainHandlers creates training handlers
func NewTrainHandlers(recorder *history.Recorder, client Inference, store archive.Archive, logger logrus.FieldLogger) *TrainHandlers {
	return &TrainHandlers{
		recorder:  recorder,
		inference: client,
		archive:   store,
		logger:    logger,
	}
}

// RegisterRoutes registers training routes behind protect
func (h *TrainHandlers) RegisterRoutes(router *mux.Router, protect Middleware) {
	router.Handle("/train", protect(http.HandlerFunc(h.train))).Methods(http.MethodPost)
}

type trainResponse struct {
	Success        bool                  `json:"success"`
	LogID          string                `json:"logId"`
	Message        string                `json:"message"`
	SavedCount     int                   `json:"savedCount"`
	SavedFilenames []string              `json:"savedFilenames"`
	Errors         []inference.FileError `json:"errors"`
	PythonStatus   int                   `json:"pythonStatus"`
}

// train handles POST /api/train
func (h *TrainHandlers) train(w http.ResponseWriter, r *http.Request) {
	logger := httputil.LoggerFromContext(r.Context(), h.logger)
	identity, _ := middleware.IdentityFromContext(r.Context())

	if err := parseForm(r); err != nil {
		httputil.WriteFailure(w, http.StatusRequestEntityTooLarge, MsgUploadTooLarge, nil)
		return
	}
	files := formFiles(r, "images")
	if len(files) == 0 {
		httputil.WriteBadRequest(w, MsgNoImageFiles)
		return
	}
	label := strings.TrimSpace(r.FormValue("label"))
	if label == "" {
		httputil.WriteBadRequest(w, MsgLabelRequired)
		return
	}

	uploads := make([]inference.Upload, 0, len(files))
	for _, fh := range files {
		upload, err := readUpload(fh)
		if err != nil {
			writeInternal(w, logger.WithField("step", "read upload"), trainMessages.internal, err)
			return
		}
		uploads = append(uploads, upload)
	}

	entry := &history.Entry{
		UserID:                    identity.UserID,
		Type:                      history.TypeTrainingUpload,
		TrainingLabel:             label,
		TrainingFileCount:         len(uploads),
		TrainingOriginalFilenames: make([]string, len(uploads)),
		TrainingImageData:         make([]string, len(uploads)),
	}
	var objects []archive.Object
	for i, u := range uploads {
		entry.TrainingOriginalFilenames[i] = u.Filename
		entry.TrainingImageData[i] = dataURI(u)
		if h.archive.Enabled() {
			objects = append(objects, archive.Object{
				Key:         h.archive.Key(label, u.Filename),
				ContentType: u.ContentType,
				Data:        u.Data,
			})
		}
	}

	ctx := context.WithoutCancel(r.Context())
	run, err := h.recorder.Begin(ctx, entry)
	if err != nil {
		writeInternal(w, logger, trainMessages.internal, err)
		return
	}
	if err := run.Processing(ctx); err != nil {
		failRun(ctx, w, logger, run, trainMessages, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"log_id": run.ID(),
		"label":  label,
		"files":  len(uploads),
	}).Info("Forwarding training images")

	type archiveResult struct {
		keys []string
		err  error
	}
	archived := make(chan archiveResult, 1)
	go func() {
		keys, err := archive.PutAll(ctx, h.archive, objects)
		archived <- archiveResult{keys: keys, err: err}
	}()

	result, err := h.inference.UploadTrain(ctx, label, uploads)

	stored := <-archived
	if stored.err != nil {
		logger.WithError(stored.err).WithFields(logrus.Fields{
			"log_id":   run.ID(),
			"archived": len(stored.keys),
			"files":    len(objects),
		}).Warn("Failed to archive training images")
	}
	// only keys that were written; persisted by the final transition
	run.Entry().TrainingObjectKeys = stored.keys

	if err != nil {
		failRun(ctx, w, logger, run, trainMessages, err)
		return
	}

	finish := run.Succeed
	if result.Partial() {
		finish = run.PartiallySucceed
	}
	if err := finish(ctx, func(e *history.Entry) {
		e.TrainingSavedCount = result.SavedCount
		e.TrainingErrors = result.ErrorStrings()
	}); err != nil && finishFailed(ctx, w, logger, run, trainMessages, err) {
		return
	}

	resp := trainResponse{
		Success:        true,
		LogID:          run.ID(),
		Message:        result.Message,
		SavedCount:     result.SavedCount,
		SavedFilenames: result.SavedFilenames,
		Errors:         result.Errors,
		PythonStatus:   result.StatusCode,
	}
	if resp.SavedFilenames == nil {
		resp.SavedFilenames = []string{}
	}
	if resp.Errors == nil {
		resp.Errors = []inference.FileError{}
	}
	_ = httputil.WriteSuccess(w, resp)
}
