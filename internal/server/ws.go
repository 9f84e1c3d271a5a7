package server

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ndjobi/internal/engine/auth"
	"ndjobi/internal/hub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards are served from other origins; auth happens before upgrade.
		return true
	},
}

// registerWebsocket exposes GET {base}/ws?role=<role>, streaming the role's
// report events over a websocket. Each connection gets its own subscription,
// so a slow dashboard never stalls the others.
func registerWebsocket(router chi.Router, basePath string, h *hub.Hub, authz auth.Service, logger *zap.Logger) {
	if h == nil {
		return
	}
	router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || p.ActorID == "" {
			writeAuthError(w)
			return
		}
		role := r.URL.Query().Get("role")
		if role == "" {
			role = p.Role
		}
		if role == "" {
			http.Error(w, "role required", http.StatusBadRequest)
			return
		}
		// Agents only watch their own queue; admins and authorities roam.
		if role != p.Role && !authz.IsAdmin(p.Role) && !authz.IsAuthority(p.Role) {
			http.Error(w, "role not permitted", http.StatusForbidden)
			return
		}

		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		sub := h.Subscribe(role)
		logger.Info("websocket subscriber connected",
			zap.String("role", role),
			zap.String("actor_id", p.ActorID))

		go wsReadLoop(conn, sub)
		wsWriteLoop(conn, sub, logger)

		sub.Close()
		_ = conn.Close()
		logger.Info("websocket subscriber disconnected",
			zap.String("role", role),
			zap.String("actor_id", p.ActorID))
	})
}

// wsReadLoop discards inbound frames but keeps the pong deadline fresh and
// notices the peer going away.
func wsReadLoop(conn *websocket.Conn, sub *hub.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsWriteLoop(conn *websocket.Conn, sub *hub.Subscription, logger *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
