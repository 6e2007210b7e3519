package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"storyforge/internal/collab/engine"
	"storyforge/internal/collab/model"
	"storyforge/internal/lineage"
	"storyforge/middleware"
	"storyforge/pkg/logger"
)

type CollabHandler struct {
	Manager *engine.Manager
	Lineage *lineage.Tracker
	Invites *middleware.InviteValidator
}

func NewCollabHandler(manager *engine.Manager, tracker *lineage.Tracker, invites *middleware.InviteValidator) *CollabHandler {
	return &CollabHandler{Manager: manager, Lineage: tracker, Invites: invites}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrApprovalRequired):
		return http.StatusForbidden
	case errors.Is(err, model.ErrSessionFull):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidSettings), errors.Is(err, model.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownSession), errors.Is(err, model.ErrUnknownCollaborator),
		errors.Is(err, lineage.ErrUnknownRemix), errors.Is(err, lineage.ErrUnknownDocument),
		errors.Is(err, lineage.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, lineage.ErrNotDraft), errors.Is(err, lineage.ErrNotPublished),
		errors.Is(err, lineage.ErrRemixNotAllowed):
		return http.StatusConflict
	case errors.Is(err, model.ErrSessionClosed), errors.Is(err, model.ErrSessionNotActive),
		errors.Is(err, model.ErrNotConnected):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *CollabHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	var req model.CreateSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Ignore error, defaults apply

	settings := model.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}

	info, err := h.Manager.CreateSession(req.DocumentID, userID, settings)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to create session: %v", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.Lineage.Register(info.DocumentID)

	writeJSON(w, model.CreateSessionResponse{SessionID: info.ID, DocumentID: info.DocumentID})
}

func (h *CollabHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	info, err := h.Manager.Info(sessionID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, info)
}

func (h *CollabHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Role.Valid() {
		http.Error(w, "Invalid role. Must be owner, admin, editor, viewer, or spectator", http.StatusBadRequest)
		return
	}

	requesterID := r.Context().Value(middleware.UserIDKey).(string)

	if err := h.Manager.SetRole(req.SessionID, req.UserID, req.Role, requesterID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to set role in session %s: %v", req.SessionID, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Role updated"))
}

func (h *CollabHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)
	info, err := h.Manager.Info(sessionID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if info.HostID != userID {
		http.Error(w, "Only the host can close a session", http.StatusForbidden)
		return
	}

	if r.URL.Query().Get("mode") == "cancel" {
		err = h.Manager.Cancel(sessionID)
	} else {
		err = h.Manager.Complete(sessionID)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Session closed"))
}

// MintInvite issues an invite token for an approval-gated session. Only
// collaborators who can invite may mint one.
func (h *CollabHandler) MintInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)
	info, err := h.Manager.Info(sessionID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	allowed := false
	for _, c := range info.Collaborators {
		if c.UserID == userID && c.Permissions.CanInvite {
			allowed = true
			break
		}
	}
	if !allowed {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	token, err := h.Invites.NewInviteToken(sessionID, 24*time.Hour)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to mint invite for session %s: %v", sessionID, err)
		http.Error(w, "Failed to mint invite token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"invite_token": token})
}

func (h *CollabHandler) ForkRemix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.ForkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DocumentID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)

	remix, err := h.Lineage.Fork(req.DocumentID, userID, lineage.ForkOptions{
		Visibility:        lineage.Visibility(req.Visibility),
		AllowFurtherRemix: req.AllowFurtherRemix,
	})
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to fork document %s: %v", req.DocumentID, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, model.ForkResponse{RemixID: remix.ID, DocumentID: remix.DocumentID, Depth: remix.Depth})
}

func (h *CollabHandler) PublishRemix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	remixID := r.URL.Query().Get("remixId")
	if remixID == "" {
		http.Error(w, "Missing remixId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)
	remix, err := h.Lineage.Remix(remixID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if remix.RemixerID != userID {
		http.Error(w, "Only the remixer can publish", http.StatusForbidden)
		return
	}

	if err := h.Lineage.Publish(remixID); err != nil {
		logger.Sugar.Errorf("Handler: Failed to publish remix %s: %v", remixID, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Remix published"))
}

func (h *CollabHandler) ArchiveRemix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	remixID := r.URL.Query().Get("remixId")
	if remixID == "" {
		http.Error(w, "Missing remixId parameter", http.StatusBadRequest)
		return
	}

	userID := r.Context().Value(middleware.UserIDKey).(string)
	remix, err := h.Lineage.Remix(remixID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if remix.RemixerID != userID {
		http.Error(w, "Only the remixer can archive", http.StatusForbidden)
		return
	}

	if err := h.Lineage.Archive(remixID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Remix archived"))
}

func (h *CollabHandler) CompareRemix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	remixID := r.URL.Query().Get("remixId")
	if remixID == "" {
		http.Error(w, "Missing remixId parameter", http.StatusBadRequest)
		return
	}

	diff, err := h.Lineage.Compare(remixID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to compare remix %s: %v", remixID, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, diff)
}

func (h *CollabHandler) LineageGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	documentID := r.URL.Query().Get("documentId")
	if documentID == "" {
		http.Error(w, "Missing documentId parameter", http.StatusBadRequest)
		return
	}

	nodes, err := h.Lineage.Graph(documentID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, nodes)
}
