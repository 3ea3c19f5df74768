package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"tracehub/internal/models"
	"tracehub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages_PostAndFetch(t *testing.T) {
	env := newTestEnv(t, false)
	token, user := env.signup(t, "chat@saividya.ac.in")
	item := testutil.CreateItem(t, env.db, user.ID, "Lab coat")
	base := fmt.Sprintf("/api/items/%d/messages", item.ID)

	resp, body := env.do(t, http.MethodPost, base, map[string]string{"text": "   "}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeEmptyMessage, decodeError(t, body).Code)

	resp, _ = env.do(t, http.MethodPost, base, map[string]string{"text": "is it still there?"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for i, text := range []string{"is it still there?", " yes, at the front desk "} {
		resp, body = env.do(t, http.MethodPost, base, map[string]string{"text": text}, token)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		var msg models.Message
		require.NoError(t, json.Unmarshal(body, &msg))
		assert.Equal(t, uint64(i+1), msg.Seq)
		assert.Equal(t, user.Email, msg.AuthorEmail)
		assert.Equal(t, user.ID, msg.AuthorID)
	}

	resp, body = env.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "is it still there?", msgs[0].Text)
	assert.Equal(t, "yes, at the front desk", msgs[1].Text)

	_, body = env.do(t, http.MethodGet, base+"?after=1", nil, "")
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(2), msgs[0].Seq)

	resp, _ = env.do(t, http.MethodGet, base+"?after=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessages_MissingItem(t *testing.T) {
	env := newTestEnv(t, false)
	token, _ := env.signup(t, "lost@saividya.ac.in")

	resp, body := env.do(t, http.MethodPost, "/api/items/999/messages", map[string]string{"text": "hello"}, token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, models.CodeNotFound, decodeError(t, body).Code)

	resp, body = env.do(t, http.MethodGet, "/api/items/999/messages", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestMessages_HistorySurvivesItemDeletion(t *testing.T) {
	env := newTestEnv(t, false)
	token, _ := env.signup(t, "keep@saividya.ac.in")

	resp, body := env.do(t, http.MethodPost, "/api/items/", newItemBody("found", "ID card"), token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var item models.Item
	require.NoError(t, json.Unmarshal(body, &item))
	base := fmt.Sprintf("/api/items/%d", item.ID)

	resp, _ = env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "mine!"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, base, nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = env.do(t, http.MethodGet, base+"/messages", nil, "")
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	assert.Len(t, msgs, 1)

	resp, _ = env.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "too late"}, token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
