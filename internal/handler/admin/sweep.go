package admin

import (
	"net/http"

	"github.com/quranhub/access-gate/internal/handler"
	"github.com/quranhub/access-gate/internal/service"
)

type SweepHandler struct {
	sweeper *service.Sweeper
}

func NewSweepHandler(sweeper *service.Sweeper) *SweepHandler {
	return &SweepHandler{sweeper: sweeper}
}

func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		service.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, result)
}
