package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Sternrassler/shopease-worker/pkg/clients"
	"github.com/Sternrassler/shopease-worker/pkg/metrics"
	"github.com/Sternrassler/shopease-worker/pkg/notify"
	"github.com/Sternrassler/shopease-worker/pkg/worker"
)

const maxBodyBytes = 1 << 20

// routes serves the control endpoints under /_worker and intercepts every
// other request as a fetch event.
func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/health", healthHandler)
	r.Get("/ready", a.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/_worker", func(r chi.Router) {
		r.Get("/state", a.stateHandler)
		r.Post("/message", a.messageHandler)
		r.Post("/push", a.pushHandler)
		r.Get("/notifications", a.listNotificationsHandler)
		r.Post("/notifications/click", a.clickHandler)
		r.Post("/sync", a.syncHandler)
		r.Post("/sync/register", a.registerSyncHandler)
		r.Get("/sync/pending", a.pendingSyncHandler)
		r.Get("/clients", a.listClientsHandler)
		r.Post("/clients", a.registerClientHandler)
		r.Delete("/clients/{id}", a.closeClientHandler)
		r.Post("/clients/{id}/navigate", a.navigateClientHandler)
	})

	r.Handle("/*", http.HandlerFunc(a.fetchHandler))
	return r
}

func (a *app) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	if a.redis != nil {
		if err := a.redis.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// fetchHandler answers an intercepted request through the worker.
func (a *app) fetchHandler(w http.ResponseWriter, r *http.Request) {
	origin, err := a.cfg.OriginURL()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	req := r.Clone(r.Context())
	req.RequestURI = ""
	req.URL = origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	req.Host = origin.Host

	resp, _, err := a.instance().Fetch(r.Context(), req)
	if err != nil || resp == nil {
		if errors.Is(err, worker.ErrClosed) {
			http.Error(w, "worker shutting down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Failed to write response")
	}
}

type stateResponse struct {
	State           string `json:"state"`
	UpdateAvailable bool   `json:"update_available"`
	Online          bool   `json:"online"`
}

func (a *app) stateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		State:           a.instance().State().String(),
		UpdateAvailable: a.instance().UpdateAvailable(),
		Online:          a.monitor.Online(),
	})
}

func (a *app) messageHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	msg, err := worker.ParseMessage(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := a.instance().Message(r.Context(), msg); err != nil {
		writeWorkerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// pushHandler takes the raw push payload. Malformed payloads still show the
// default notification.
func (a *app) pushHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	ev, d, err := a.instance().Push(r.Context(), raw)
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	if err := ev.Wait(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *app) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tray.List())
}

func (a *app) clickHandler(w http.ResponseWriter, r *http.Request) {
	var in notify.Interaction
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		http.Error(w, "invalid interaction", http.StatusBadRequest)
		return
	}
	if in.Data == nil && in.NotificationID != "" {
		if n, ok := a.tray.Get(in.NotificationID); ok {
			in.Data = n.Descriptor.Data
		}
	}

	ev, err := a.instance().NotificationClick(r.Context(), in)
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	if err := ev.Wait(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, a.instance().Windows().MatchAll())
}

type syncRequest struct {
	Tag string `json:"tag"`
}

func decodeTag(r *http.Request, fallback string) (string, error) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			return "", err
		}
	}
	if req.Tag == "" {
		req.Tag = fallback
	}
	return req.Tag, nil
}

func (a *app) syncHandler(w http.ResponseWriter, r *http.Request) {
	tag, err := decodeTag(r, a.instance().Coordinator().Tag())
	if err != nil {
		http.Error(w, "invalid sync request", http.StatusBadRequest)
		return
	}
	ev, err := a.instance().Sync(r.Context(), tag)
	if err != nil {
		writeWorkerError(w, err)
		return
	}
	if err := ev.Wait(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) registerSyncHandler(w http.ResponseWriter, r *http.Request) {
	tag, err := decodeTag(r, a.instance().Coordinator().Tag())
	if err != nil {
		http.Error(w, "invalid sync request", http.StatusBadRequest)
		return
	}
	reg, err := a.instance().RegisterSync(r.Context(), tag)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (a *app) pendingSyncHandler(w http.ResponseWriter, r *http.Request) {
	regs, err := a.instance().Coordinator().Pending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, regs)
}

func (a *app) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.instance().Windows().MatchAll())
}

type clientRequest struct {
	URL string `json:"url"`
}

func decodeClientRequest(r *http.Request) (clientRequest, bool) {
	var req clientRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.URL == "" {
		return req, false
	}
	return req, true
}

func (a *app) registerClientHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClientRequest(r)
	if !ok {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	win, err := a.instance().Windows().Register(req.URL)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

func (a *app) navigateClientHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeClientRequest(r)
	if !ok {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	win, err := a.instance().Windows().Navigate(chi.URLParam(r, "id"), req.URL)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func writeClientError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, clients.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, clients.ErrForeignOrigin):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

// closeClientHandler closes a window. Once no window is left, a waiting
// worker may activate.
func (a *app) closeClientHandler(w http.ResponseWriter, r *http.Request) {
	if !a.instance().Windows().Close(chi.URLParam(r, "id")) {
		http.Error(w, "window not found", http.StatusNotFound)
		return
	}
	if len(a.instance().Windows().MatchAll()) == 0 {
		a.instance().PriorClientsClosed(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeWorkerError(w http.ResponseWriter, err error) {
	if errors.Is(err, worker.ErrClosed) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
