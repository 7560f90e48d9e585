package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"evalgo.org/kiwi/internal/logging"
)

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.config.Security.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket streams job and installation events.
func (s *Server) HandleWebSocket(c echo.Context) error {
	up := s.upgrader()
	ws, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logging.Warnf("websocket upgrade error: %v", err)
		return err
	}

	client := &Client{
		hub:  s.wsHub,
		conn: ws,
		send: make(chan []byte, 256),
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		_ = ws.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// GetWebSocketStats returns WebSocket connection statistics
func (s *Server) GetWebSocketStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected_clients": s.wsHub.ClientCount(),
		"status":            "operational",
	})
}
