package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/httputil"
	"github.com/lookout-vision/lookout/pkg/middleware"
)

const (
	// DefaultHistoryLimit is used when the limit parameter is absent
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps one page
	MaxHistoryLimit = 500

	MsgInvalidPagination = "Invalid pagination parameters."
	MsgHistoryNotFound   = "History entry not found."
)

var historyMessages = outboundMessages{
	failed:      "Failed to fetch history.",
	unavailable: "History service unavailable.",
	internal:    "Internal Server Error fetching history.",
}

// HistoryHandlers serves the caller's own history and passes through the
// inference service's history
type HistoryHandlers struct {
	store     history.Store
	inference Inference
	logger    logrus.FieldLogger
}

// NewHistoryHandlers creates history handlers
func NewHistoryHandlers(store history.Store, client Inference, logger logrus.FieldLogger) *HistoryHandlers {
	return &HistoryHandlers{
		store:     store,
		inference: client,
		logger:    logger,
	}
}

// RegisterRoutes registers history routes behind protect
func (h *HistoryHandlers) RegisterRoutes(router *mux.Router, protect Middleware) {
	router.Handle("/history", protect(http.HandlerFunc(h.listHistory))).Methods(http.MethodGet)
	router.Handle("/history/{id}", protect(http.HandlerFunc(h.getHistory))).Methods(http.MethodGet)
	router.Handle("/inference/history", protect(http.HandlerFunc(h.inferenceHistory))).Methods(http.MethodGet)
}

type historyPage struct {
	Success    bool             `json:"success"`
	Logs       []*history.Entry `json:"logs"`
	TotalCount int              `json:"totalCount"`
}

type historyItem struct {
	Success bool           `json:"success"`
	Log     *history.Entry `json:"log"`
}

// pagination reads limit and skip. A non-integer, a non-positive limit or a
// negative skip is rejected; limit is clamped to MaxHistoryLimit.
func pagination(r *http.Request) (limit, skip int, ok bool) {
	limit, err := httputil.ParseQueryInt(r, "limit", DefaultHistoryLimit)
	if err != nil || limit <= 0 {
		return 0, 0, false
	}
	skip, err = httputil.ParseQueryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		return 0, 0, false
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return limit, skip, true
}

// listHistory handles GET /api/history
func (h *HistoryHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	limit, skip, ok := pagination(r)
	if !ok {
		httputil.WriteBadRequest(w, MsgInvalidPagination)
		return
	}

	logs, total, err := h.store.List(r.Context(), identity.UserID, limit, skip)
	if err != nil {
		writeInternal(w, httputil.LoggerFromContext(r.Context(), h.logger), historyMessages.internal, err)
		return
	}
	if logs == nil {
		logs = []*history.Entry{}
	}

	_ = httputil.WriteSuccess(w, historyPage{
		Success:    true,
		Logs:       logs,
		TotalCount: total,
	})
}

// getHistory handles GET /api/history/{id}. Entries owned by someone else
// read as not found.
func (h *HistoryHandlers) getHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entry, err := h.store.Get(r.Context(), identity.UserID, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			httputil.WriteNotFound(w, MsgHistoryNotFound)
			return
		}
		writeInternal(w, httputil.LoggerFromContext(r.Context(), h.logger), historyMessages.internal, err)
		return
	}

	_ = httputil.WriteSuccess(w, historyItem{Success: true, Log: entry})
}

// inferenceHistory handles GET /api/inference/history. The upstream status
// and body are relayed unchanged on success; failures keep the upstream status.
func (h *HistoryHandlers) inferenceHistory(w http.ResponseWriter, r *http.Request) {
	logger := httputil.LoggerFromContext(r.Context(), h.logger)

	limit, err := httputil.ParseQueryInt(r, "limit", DefaultHistoryLimit)
	if err != nil {
		httputil.WriteBadRequest(w, MsgInvalidPagination)
		return
	}
	skip, err := httputil.ParseQueryInt(r, "skip", 0)
	if err != nil {
		httputil.WriteBadRequest(w, MsgInvalidPagination)
		return
	}

	page, err := h.inference.History(r.Context(), limit, skip)
	if err != nil {
		status, message, detail := outboundFailure(historyMessages, err)
		if upstream := asUpstream(err); upstream != nil {
			status = upstream.StatusCode
		}
		logger.WithError(err).WithField("status", status).Error(message)
		httputil.WriteFailure(w, status, message, detail)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(page.StatusCode)
	_, _ = w.Write(page.Body)
}
