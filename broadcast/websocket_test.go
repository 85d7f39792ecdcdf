package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T, hub *Hub, origins []string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/projects/:project_id", NewGateway(hub, origins, nil, nil).HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestGatewayStreamsEvents(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	defer hub.Close()
	srv := newGatewayServer(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/p1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, Subscribed, hello.Kind)
	assert.Equal(t, "p1", hello.ProjectID)
	assert.Equal(t, 1, hub.SubscriberCount("p1"))

	hub.Publish("p2", BranchCreated, nil)
	hub.Publish("p1", CommitCreated, map[string]string{"hash": "abc"})

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, CommitCreated, ev.Kind)
	assert.Equal(t, "p1", ev.ProjectID)
	assert.Equal(t, map[string]interface{}{"hash": "abc"}, ev.Payload)
}

func TestGatewayUnsubscribesOnDisconnect(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	defer hub.Close()
	srv := newGatewayServer(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/p1"), nil)
	require.NoError(t, err)
	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.SubscriberCount("p1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayClosesWhenHubStops(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	srv := newGatewayServer(t, hub, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/p1"), nil)
	require.NoError(t, err)
	defer conn.Close()
	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestGatewayRejectsInvalidProject(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	defer hub.Close()
	srv := newGatewayServer(t, hub, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/-bad"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGatewayOriginCheck(t *testing.T) {
	hub := NewHub(DefaultConfig(), nil, nil)
	defer hub.Close()
	srv := newGatewayServer(t, hub, []string{"editor.example.com"})

	header := http.Header{"Origin": []string{"https://evil.example.org"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/p1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://editor.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/projects/p1"), header)
	require.NoError(t, err)
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://anything.test")))

	strict := originChecker([]string{"https://editor.example.com"})
	assert.True(t, strict(req("https://editor.example.com")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://other.example.com")))
}
