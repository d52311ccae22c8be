// Package web exposes the dashboard over HTTP. Handlers are thin: they
// resolve the caller identity, delegate to the domain packages, and map
// domain errors to status codes. Authorization failures return 403
// regardless of whether the target exists.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/salesboard/salesboard/dispatch"
	"github.com/salesboard/salesboard/export"
	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/policy"
	"github.com/salesboard/salesboard/removal"
	"github.com/salesboard/salesboard/submit"
	"github.com/salesboard/salesboard/view"
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// Exporter enqueues a background export snapshot. Nil when no task
// queue is configured.
type Exporter interface {
	EnqueueExport(ctx context.Context, requestedBy, userID string) error
}

// Config carries the server's collaborators.
type Config struct {
	Addr       string
	Store      models.Store
	Board      *view.Board
	Activity   *view.ActivityFeed
	Removal    *removal.Coordinator
	Dispatcher *dispatch.Dispatcher
	Auth       Authenticator
	Exporter   Exporter
	Logger     *zap.Logger

	// Announce, if set, publishes a change topic to the external feed
	// after a successful write so other instances refresh too.
	Announce func(ctx context.Context, topic dispatch.Topic)
}

// Server is the dashboard HTTP API.
type Server struct {
	cfg  Config
	log  *zap.Logger
	srv  *http.Server
	now  func() time.Time
	auth *AuthMiddleware

	formsMu sync.Mutex
	forms   map[string]*submit.Form
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		now:   time.Now,
		auth:  NewAuthMiddleware(cfg.Auth, cfg.Store.Users()),
		forms: make(map[string]*submit.Form),
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router builds the route table. Exposed separately so tests can drive
// the handlers through httptest without binding a socket.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Authenticate)

	api.HandleFunc("/capabilities", s.capabilities).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)
	api.HandleFunc("/activity", s.activity).Methods(http.MethodGet)
	api.HandleFunc("/deals", s.createDeal).Methods(http.MethodPost)
	api.HandleFunc("/deals/{id}", s.deleteDeal).Methods(http.MethodDelete)
	api.HandleFunc("/targets", s.createTarget).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}", s.removeUser).Methods(http.MethodDelete)
	api.HandleFunc("/export", s.exportCSV).Methods(http.MethodGet)
	api.HandleFunc("/export", s.enqueueExport).Methods(http.MethodPost)
	api.HandleFunc("/events", s.events).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.srv.Shutdown(sctx)
	}()

	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) capabilities(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, policy.CapabilitiesFor(GetIdentity(r.Context())))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !ident.Resolved {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	renderJSON(w, http.StatusOK, s.cfg.Board.Snapshot())
}

type activityDeal struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	ClientName string    `json:"client_name"`
	Value      float64   `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !policy.CanViewAllRecords(ident) {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	nameFor := export.NameResolver(s.cfg.Activity.Users())
	deals := s.cfg.Activity.Deals(r.URL.Query().Get("user_id"))

	ans := make([]activityDeal, 0, len(deals))

	for _, d := range deals {
		ans = append(ans, activityDeal{
			ID:         d.ID,
			UserID:     d.UserID,
			UserName:   nameFor(d.UserID),
			ClientName: d.ClientName,
			Value:      d.Value,
			CreatedAt:  d.CreatedAt,
		})
	}

	renderJSON(w, http.StatusOK, ans)
}

type createDealRequest struct {
	UserID     string  `json:"user_id"`
	ClientName string  `json:"client_name"`
	Value      float64 `json:"value"`
}

func (s *Server) createDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, apiError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	ident := GetIdentity(r.Context())

	// Reps omit user_id; the deal is theirs.
	if req.UserID == "" {
		req.UserID = ident.UserID
	}

	err := s.formFor(ident.UserID).Submit(r.Context(), ident, submit.Input{
		UserID:     req.UserID,
		ClientName: req.ClientName,
		Value:      req.Value,
	})
	if err != nil {
		s.renderSubmitError(w, err)
		return
	}

	s.announce(r.Context(), dispatch.TopicDeals)

	renderJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// formFor returns the submission form owned by userID, creating it on
// first use. Each identity gets its own form, so the at-most-one
// in-flight rule applies per identity: one rep's pending write never
// rejects another rep's submission.
func (s *Server) formFor(userID string) *submit.Form {
	s.formsMu.Lock()
	defer s.formsMu.Unlock()

	form, ok := s.forms[userID]
	if !ok {
		form = submit.NewForm(s.cfg.Store.Deals(), s.cfg.Board.Users, nil)
		s.forms[userID] = form
	}

	return form
}

func (s *Server) renderSubmitError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError

	switch {
	case errors.Is(err, submit.ErrSubmissionInFlight):
		renderJSON(w, http.StatusConflict, apiError{Code: http.StatusConflict, Message: err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
	case errors.As(err, &verr):
		renderJSON(w, http.StatusUnprocessableEntity, apiError{Code: http.StatusUnprocessableEntity, Message: verr.Reason})
	default:
		s.log.Error("deal submission failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to record deal"})
	}
}

func (s *Server) deleteDeal(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !policy.CanDeleteDeal(ident) {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	id := mux.Vars(r)["id"]

	if err := s.cfg.Store.Deals().Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrDealNotFound) {
			renderJSON(w, http.StatusNotFound, apiError{Code: http.StatusNotFound, Message: "deal not found"})
			return
		}

		s.log.Error("deal delete failed", zap.String("deal_id", id), zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to delete deal"})

		return
	}

	s.announce(r.Context(), dispatch.TopicDeals)

	renderJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createTargetRequest struct {
	TargetValue float64 `json:"target_value"`
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !policy.CanSetTarget(ident) {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, apiError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	target := models.Target{
		ID:          uuid.NewString(),
		TargetValue: req.TargetValue,
		CreatedAt:   s.now().UTC(),
	}

	if err := target.Validate(); err != nil {
		renderJSON(w, http.StatusUnprocessableEntity, apiError{Code: http.StatusUnprocessableEntity, Message: err.Error()})
		return
	}

	if err := s.cfg.Store.Targets().Create(r.Context(), &target); err != nil {
		s.log.Error("target create failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to set target"})

		return
	}

	s.announce(r.Context(), dispatch.TopicTargets)

	renderJSON(w, http.StatusCreated, map[string]string{"id": target.ID})
}

func (s *Server) removeUser(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	targetID := mux.Vars(r)["id"]
	confirmed := r.URL.Query().Get("confirm") == "true"

	err := s.cfg.Removal.RemoveUser(r.Context(), ident, targetID, confirmed)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		case errors.Is(err, models.ErrNotConfirmed):
			renderJSON(w, http.StatusPreconditionRequired, apiError{Code: http.StatusPreconditionRequired, Message: "confirmation required"})
		case errors.Is(err, models.ErrUserNotFound):
			renderJSON(w, http.StatusNotFound, apiError{Code: http.StatusNotFound, Message: "user not found"})
		default:
			s.log.Error("user removal failed", zap.String("user_id", targetID), zap.Error(err))
			renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to remove user"})
		}

		return
	}

	s.announce(r.Context(), dispatch.TopicUsers)
	s.announce(r.Context(), dispatch.TopicDeals)

	renderJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !ident.Resolved {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	var filter export.Filter

	switch {
	case policy.CanViewAllRecords(ident):
		if userID := r.URL.Query().Get("user_id"); userID != "" {
			filter = export.ByUser(userID)
		}
	default:
		// Reps only ever export their own rows.
		filter = export.ByUser(ident.UserID)
	}

	users, err := s.cfg.Store.Users().Select(r.Context())
	if err != nil {
		s.log.Error("export user fetch failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to export"})

		return
	}

	deals, err := s.cfg.Store.Deals().Select(r.Context(), models.DealSelectParams{})
	if err != nil {
		s.log.Error("export deal fetch failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to export"})

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(s.now())))

	if err := export.WriteDeals(w, deals, export.NameResolver(users), filter); err != nil {
		s.log.Error("export encode failed", zap.Error(err))
	}
}

func (s *Server) enqueueExport(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !policy.CanViewAllRecords(ident) {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	if s.cfg.Exporter == nil {
		renderJSON(w, http.StatusServiceUnavailable, apiError{Code: http.StatusServiceUnavailable, Message: "export queue not configured"})
		return
	}

	if err := s.cfg.Exporter.EnqueueExport(r.Context(), ident.UserID, r.URL.Query().Get("user_id")); err != nil {
		s.log.Error("export enqueue failed", zap.Error(err))
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "failed to enqueue export"})

		return
	}

	renderJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// events streams refresh ticks over SSE. Each tick means "re-fetch";
// the payload carries no record data.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())
	if !ident.Resolved {
		renderJSON(w, http.StatusForbidden, apiError{Code: http.StatusForbidden, Message: "forbidden"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		renderJSON(w, http.StatusInternalServerError, apiError{Code: http.StatusInternalServerError, Message: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticks := make(chan struct{}, 1)

	sub := s.cfg.Dispatcher.Subscribe(
		[]dispatch.Topic{dispatch.TopicDeals, dispatch.TopicTargets, dispatch.TopicUsers},
		func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		},
	)
	defer sub.Cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticks:
			if _, err := fmt.Fprint(w, "event: refresh\ndata: {}\n\n"); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}

func (s *Server) announce(ctx context.Context, topic dispatch.Topic) {
	// The local dispatcher hears about the write immediately; waiting
	// for the store feed round trip would leave this instance stale
	// when the feed is degraded.
	s.cfg.Dispatcher.Notify(topic)

	if s.cfg.Announce != nil {
		s.cfg.Announce(ctx, topic)
	}
}
