package handler

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/service"
)

// GatewayHandler fronts the content API for one distribution path. Every call
// is authenticated, rate limited and recorded before being proxied upstream.
type GatewayHandler struct {
	svc      *service.GatewayService
	upstream *url.URL
	proxy    *httputil.ReverseProxy
}

func NewGatewayHandler(svc *service.GatewayService, upstream *url.URL) *GatewayHandler {
	h := &GatewayHandler{svc: svc, upstream: upstream}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			// The upstream trusts the gateway; the API key must not travel on.
			pr.Out.Header.Del("Authorization")
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("upstream proxy error")
			RespondError(w, http.StatusBadGateway, "upstream_error", "Content service unavailable")
		},
	}
	return h
}

func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	distID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid distribution ID")
		return
	}

	secret := extractBearer(r)
	if secret == "" {
		RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	rest := "/" + chi.URLParam(r, "*")
	eventType := model.UsageAPICall
	if strings.HasSuffix(rest, "/download") {
		eventType = model.UsageDownload
	}

	result, err := h.svc.Authorize(r.Context(), service.CallInput{
		Secret:         secret,
		DistributionID: distID,
		Endpoint:       rest,
		EventType:      eventType,
		Cost:           1,
		CallerIP:       clientIP(r),
		UserAgent:      r.UserAgent(),
		RequestBytes:   r.ContentLength,
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}

	r.URL.Path = rest
	r.URL.RawPath = ""
	ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
	h.proxy.ServeHTTP(ww, r)
	h.svc.Finalize(r.Context(), result, int64(ww.BytesWritten()))
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
