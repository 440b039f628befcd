package admin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/handler"
	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/store"
)

type DailyUsageHandler struct {
	store store.UsageStore
}

func NewDailyUsageHandler(s store.UsageStore) *DailyUsageHandler {
	return &DailyUsageHandler{store: s}
}

type dailyUsageResponse struct {
	From string             `json:"from"`
	To   string             `json:"to"`
	Days []*model.DailyUsage `json:"days"`
}

func (h *DailyUsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if f := r.URL.Query().Get("from"); f != "" {
		t, err := time.Parse("2006-01-02", f)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "from must be YYYY-MM-DD")
			return
		}
		from = t
	}
	if tq := r.URL.Query().Get("to"); tq != "" {
		t, err := time.Parse("2006-01-02", tq)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "to must be YYYY-MM-DD")
			return
		}
		to = t.AddDate(0, 0, 1) // inclusive end date
	}
	if to.Before(from) {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "to must not precede from")
		return
	}

	days, err := h.store.DailyUsage(r.Context(), from, to)
	if err != nil {
		log.Error().Err(err).Msg("failed to aggregate daily usage")
		handler.RespondError(w, http.StatusInternalServerError, "internal_error", "Failed to aggregate usage")
		return
	}

	handler.RespondJSON(w, http.StatusOK, dailyUsageResponse{
		From: from.Format("2006-01-02"),
		To:   to.Format("2006-01-02"),
		Days: days,
	})
}
