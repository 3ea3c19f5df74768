package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/models"
	"tracehub/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// listen serves env's app on a loopback port and returns its address.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.Shutdown() })
	return ln.Addr().String()
}

func dialDiscussions(t *testing.T, addr, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial("ws://"+addr+"/api/ws/discussions", header)
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ItemEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.ItemEvent
	require.NoError(t, json.Unmarshal(raw, &ev), string(raw))
	return ev
}

func subscribe(t *testing.T, conn *websocket.Conn, itemID uint) models.ItemEvent {
	t.Helper()
	require.NoError(t, conn.WriteJSON(discussionFrame{Type: frameSubscribe, ItemID: itemID}))
	return readEvent(t, conn)
}

func TestDiscussionSocket_LiveMessagesAndDeletion(t *testing.T) {
	env := newTestEnv(t, false)
	token, user := env.signup(t, "ws@saividya.ac.in")
	item := testutil.CreateItem(t, env.db, user.ID, "Headphones")
	addr := env.listen(t)

	conn, _, err := dialDiscussions(t, addr, token)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ev := subscribe(t, conn, item.ID)
	require.Equal(t, models.EventSubscribed, ev.Type)
	assert.Equal(t, item.ID, ev.ItemID)
	assert.Equal(t, 1, env.srv.itemHub.Subscribers(item.ID))

	resp, body := env.do(t, http.MethodPost, fmt.Sprintf("/api/items/%d/messages", item.ID),
		map[string]string{"text": "found them near the lab"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	ev = readEvent(t, conn)
	require.Equal(t, models.EventMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "found them near the lab", ev.Message.Text)
	assert.Equal(t, uint64(1), ev.Message.Seq)

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/items/%d", item.ID), nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ev = readEvent(t, conn)
	assert.Equal(t, models.EventItemDeleted, ev.Type)
	assert.Equal(t, item.ID, ev.ItemID)
	assert.Equal(t, 0, env.srv.itemHub.Subscribers(item.ID))
}

func TestDiscussionSocket_SubscribeErrors(t *testing.T) {
	env := newTestEnv(t, false)
	token, _ := env.signup(t, "errs@saividya.ac.in")
	addr := env.listen(t)

	conn, _, err := dialDiscussions(t, addr, token)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ev := subscribe(t, conn, 404)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, models.CodeNotFound, ev.Reason)

	ev = subscribe(t, conn, 0)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, models.CodeValidation, ev.Reason)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	ev = readEvent(t, conn)
	assert.Equal(t, models.EventError, ev.Type)
}

func TestDiscussionSocket_DeleteDuringSubscribeIsRefused(t *testing.T) {
	env := newTestEnv(t, false)
	token, user := env.signup(t, "race@saividya.ac.in")
	item := testutil.CreateItem(t, env.db, user.ID, "Water bottle")
	addr := env.listen(t)

	// The owner's delete commits after the subscribe lookup found the item.
	var armed atomic.Bool
	armed.Store(true)
	require.NoError(t, env.db.Callback().Query().After("gorm:query").Register("test:delete_after_item_lookup",
		func(tx *gorm.DB) {
			if tx.Statement.Table != "items" || !armed.CompareAndSwap(true, false) {
				return
			}
			assert.NoError(t, env.srv.itemService.DeleteItem(context.Background(), item.ID, user.ID))
		}))

	conn, _, err := dialDiscussions(t, addr, token)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ev := subscribe(t, conn, item.ID)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, models.CodeNotFound, ev.Reason)
	assert.Equal(t, 0, env.srv.itemHub.Subscribers(item.ID))
}

func TestDiscussionSocket_Rejections(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		env := newTestEnv(t, false)
		addr := env.listen(t)
		_, resp, err := dialDiscussions(t, addr, "")
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("feature disabled", func(t *testing.T) {
		env := newTestEnv(t, false, func(c *config.Config) {
			c.FeatureFlags = "realtime_discussions=off"
		})
		token, _ := env.signup(t, "off@saividya.ac.in")
		addr := env.listen(t)
		_, resp, err := dialDiscussions(t, addr, token)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestDiscussionSocket_FanoutThroughRedis(t *testing.T) {
	env := newTestEnv(t, true)
	token, user := env.signup(t, "redis@saividya.ac.in")
	item := testutil.CreateItem(t, env.db, user.ID, "Charger")
	addr := env.listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, env.srv.itemHub.StartWiring(ctx, env.srv.notifier))

	conn, _, err := dialDiscussions(t, addr, token)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Equal(t, models.EventSubscribed, subscribe(t, conn, item.ID).Type)

	resp, _ := env.do(t, http.MethodPost, fmt.Sprintf("/api/items/%d/messages", item.ID),
		map[string]string{"text": "via redis"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev := readEvent(t, conn)
	require.Equal(t, models.EventMessage, ev.Type)
	assert.Equal(t, "via redis", ev.Message.Text)
}
