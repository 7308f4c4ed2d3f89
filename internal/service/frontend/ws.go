package frontend

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/baobabted/AI-Coding-Tutor/internal/logger"
	"github.com/baobabted/AI-Coding-Tutor/internal/service/chat"
)

// Close code for a failed websocket authentication. Browsers cannot set
// headers on websocket requests, so the token travels as a query parameter
// and is checked after the handshake.
const closeCodeAuthFailed = 4001

// handleChatSocket upgrades the connection and runs the chat pipeline until
// the client disconnects.
func (srv *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: srv.cfg.Server.CORSOrigins,
	})
	if err != nil {
		logger.Debug(r.Context(), "Websocket accept failed", "err", err)
		return
	}

	user, err := srv.authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		_ = conn.Close(closeCodeAuthFailed, "Authentication failed")
		return
	}

	logger.Info(r.Context(), "Chat connection opened", "user", user.ID)

	session := chat.NewSession(srv.chat, conn, user)
	if err := session.Run(r.Context()); err != nil {
		session.Close()
		_ = conn.Close(websocket.StatusInternalError, "Internal error")
		return
	}
	session.Close()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
