package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chanrelay/internal/models"
	"chanrelay/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the operator control surface: health, stats, per-user
// configuration, the login flow and admin operations. Inbound channel
// events do not pass through here; they arrive over the gateway event
// stream.
type Server struct {
	admin    *service.AdminService
	sessions *service.SessionManager
	logger   *logrus.Logger
	srv      *http.Server
}

func NewServer(cfg *models.Config, admin *service.AdminService, sessions *service.SessionManager, logger *logrus.Logger) *Server {
	s := &Server{
		admin:    admin,
		sessions: sessions,
		logger:   logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/{id:[0-9]+}", s.handleRegisterUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/sources", s.handleAddSource).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/sources/{channel}", s.handleRemoveSource).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id:[0-9]+}/sources/{channel}/mode", s.handleSetMode).Methods(http.MethodPut)
	api.HandleFunc("/users/{id:[0-9]+}/destination", s.handleSetDestination).Methods(http.MethodPut)
	api.HandleFunc("/users/{id:[0-9]+}/cleanup", s.handleCleanup).Methods(http.MethodPost)

	api.HandleFunc("/users/{id:[0-9]+}/login", s.handleBeginLogin).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/login/phone", s.handleSubmitPhone).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/login/code", s.handleSubmitCode).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/login/password", s.handleSubmitPassword).Methods(http.MethodPost)
	api.HandleFunc("/users/{id:[0-9]+}/logout", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/admin/bans", s.handleListBans).Methods(http.MethodGet)
	api.HandleFunc("/admin/ban", s.handleBan).Methods(http.MethodPost)
	api.HandleFunc("/admin/unban", s.handleUnban).Methods(http.MethodPost)
	api.HandleFunc("/admin/broadcast", s.handleBroadcast).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // cleanup and broadcast are slow by design
	}
	return s
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		Username string `json:"username"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	created, err := s.admin.RegisterUser(r.Context(), userID, body.Username)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"created": created})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		ChannelID string `json:"channelId"`
		Title     string `json:"title"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.ChannelID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("channelId is required"))
		return
	}

	added, err := s.admin.AddSource(r.Context(), userID, body.ChannelID, body.Title)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	channel := mux.Vars(r)["channel"]

	removed, err := s.admin.RemoveSource(r.Context(), userID, channel)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	channel := mux.Vars(r)["channel"]
	var body struct {
		Mode string `json:"mode"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	mode := models.ForwardMode(body.Mode)
	if !mode.IsValid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid mode %q", body.Mode))
		return
	}

	updated, err := s.admin.SetMode(r.Context(), userID, channel, mode)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		ChannelID string `json:"channelId"`
		Title     string `json:"title"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.ChannelID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("channelId is required"))
		return
	}

	if err := s.admin.SetDestination(r.Context(), userID, body.ChannelID, body.Title); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)

	left, err := s.admin.CleanupChannels(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotLoggedIn) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"left": left})
}

func (s *Server) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	if err := s.sessions.BeginLogin(r.Context(), userID); err != nil {
		s.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.sessions.State(userID).String()})
}

func (s *Server) handleSubmitPhone(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		Phone string `json:"phone"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.sessions.SubmitPhone(r.Context(), userID, body.Phone); err != nil {
		s.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.sessions.State(userID).String()})
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	err := s.sessions.SubmitCode(r.Context(), userID, body.Code)
	if errors.Is(err, service.ErrPasswordRequired) {
		writeJSON(w, http.StatusOK, map[string]string{"state": s.sessions.State(userID).String()})
		return
	}
	if err != nil {
		s.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": "logged_in"})
}

func (s *Server) handleSubmitPassword(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	var body struct {
		Password string `json:"password"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.sessions.SubmitPassword(r.Context(), userID, body.Password); err != nil {
		s.writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": "logged_in"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := pathUserID(r)
	if err := s.sessions.Logout(r.Context(), userID); err != nil {
		if errors.Is(err, service.ErrNotLoggedIn) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBans(w http.ResponseWriter, r *http.Request) {
	banned, err := s.admin.BannedUsers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, banned)
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   int64  `json:"userId"`
		Username string `json:"username"`
		Reason   string `json:"reason"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	banned, err := s.admin.Ban(r.Context(), body.UserID, body.Username, body.Reason)
	if err != nil {
		if errors.Is(err, service.ErrCannotBanOwner) {
			s.writeError(w, http.StatusForbidden, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"banned": banned})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"userId"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	unbanned, err := s.admin.Unban(r.Context(), body.UserID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unbanned": unbanned})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Text == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	delivered, err := s.admin.Broadcast(r.Context(), body.Text)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAlreadyLoggedIn),
		errors.Is(err, service.ErrWrongLoginState),
		errors.Is(err, service.ErrNoLoginInFlight):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathUserID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
