package broadcast

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/logging"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/metrics"
	"github.com/yumyum-web/realtime-collaborative-code-editor-sub000/validation"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Subscribed is sent once the subscriber is registered; events
	// published before it may have been missed.
	Subscribed Kind = "subscribed"
)

// Gateway streams a project's events to websocket clients as JSON.
type Gateway struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
}

// NewGateway creates a websocket gateway. An empty allowedOrigins list or
// "*" accepts any origin.
func NewGateway(hub *Hub, allowedOrigins []string, logger *logging.Logger, m *metrics.PrometheusMetrics) *Gateway {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gateway{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger:  logger.WithComponent("websocket"),
		metrics: m,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket serves GET /ws/projects/:project_id.
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	if err := validation.ValidateProjectID(projectID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_PROJECT_ID"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.ErrorWithErr("Failed to upgrade WebSocket connection", err)
		return
	}
	defer conn.Close()

	logger := g.logger.WithField("project_id", projectID)
	sub := g.hub.Subscribe(projectID)
	defer g.hub.Unsubscribe(sub)

	g.metrics.IncWebSocketConnections()
	defer g.metrics.DecWebSocketConnections()
	logger.WithField("subscription_id", sub.ID).Debug("WebSocket client connected")

	hello := Event{ID: sub.ID, ProjectID: projectID, Kind: Subscribed, Timestamp: time.Now().UTC()}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		logger.WarnWithErr("Failed to send subscription acknowledgement", err)
		return
	}

	closed := make(chan struct{})
	go g.readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.WithField("dropped", sub.Dropped()).Debug("WebSocket client disconnected")
			return

		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.WarnWithErr("Failed to send WebSocket message", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and reports when the connection ends.
func (g *Gateway) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
