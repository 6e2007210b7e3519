package router

import (
	"net/http"

	catalogHandler "storyforge/internal/catalog"
	collabHandler "storyforge/internal/collab"
	"storyforge/middleware"
	"storyforge/socket"
)

func Setup(hub *socket.Hub, h *collabHandler.CollabHandler, c *catalogHandler.CatalogHandler) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	auth := middleware.AuthMiddleware

	mux.Handle("/api/sessions/create", auth(http.HandlerFunc(h.CreateSession)))
	mux.Handle("/api/sessions", auth(http.HandlerFunc(h.GetSession)))
	mux.Handle("/api/sessions/role", auth(http.HandlerFunc(h.SetRole)))
	mux.Handle("/api/sessions/close", auth(http.HandlerFunc(h.CloseSession)))
	mux.Handle("/api/sessions/invite", auth(http.HandlerFunc(h.MintInvite)))
	mux.Handle("/api/remixes/create", auth(http.HandlerFunc(h.ForkRemix)))
	mux.Handle("/api/remixes/publish", auth(http.HandlerFunc(h.PublishRemix)))
	mux.Handle("/api/remixes/archive", auth(http.HandlerFunc(h.ArchiveRemix)))
	mux.Handle("/api/remixes/compare", auth(http.HandlerFunc(h.CompareRemix)))
	mux.Handle("/api/lineage", auth(http.HandlerFunc(h.LineageGraph)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(c.GetDocuments)))
	mux.Handle("/api/documents/create", auth(http.HandlerFunc(c.CreateDocument)))
	mux.Handle("/api/documents/rename", auth(http.HandlerFunc(c.RenameDocument)))
	mux.Handle("/api/documents/delete", auth(http.HandlerFunc(c.DeleteDocument)))

	return middleware.CORSMiddleware(mux)
}
