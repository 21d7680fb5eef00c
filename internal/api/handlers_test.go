package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo/internal/bottle"
)

// staticResolver maps fixed tokens to user ids.
type staticResolver map[string]string

func (r staticResolver) Resolve(_ context.Context, credential string) (string, error) {
	if id, ok := r[credential]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

func newTestServer(t *testing.T) (*Server, *bottle.Engine) {
	t.Helper()
	engine := bottle.NewEngine(bottle.NewMemStore(), nil)
	server := NewServer(0, Deps{
		Engine:   engine,
		Resolver: staticResolver{"alice-token": "alice", "bob-token": "bob"},
		IPSalt:   "test-salt",
	})
	return server, engine
}

func doJSON(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestCreateBottle_RequiresAuth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "", `{"content":"hello"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(server, http.MethodPost, "/api/bottles", "bad-token", `{"content":"hello"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndPickBottle(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"message in a bottle"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["bottleId"])

	rec = doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var picked struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &picked))
	assert.Equal(t, created["bottleId"], picked.ID)
	assert.Equal(t, "picked", picked.Status)
	require.Len(t, picked.Messages, 1)
	assert.Equal(t, "message in a bottle", picked.Messages[0].Content)
}

func TestPickBottle_ConflictCarriesBottleID(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"first"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"second"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var picked map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &picked))

	rec = doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, picked["id"], conflict["bottleId"])
}

func TestPickBottle_EmptyPool(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBottle_Validation(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(server, http.MethodPost, "/api/bottles", "alice-token",
		`{"content":"`+strings.Repeat("x", bottle.MaxContentLength+1)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseBottle(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(server, http.MethodPut, "/api/bottles/"+created["bottleId"]+"/release", "bob-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// a second release is not idempotent
	rec = doJSON(server, http.MethodPut, "/api/bottles/"+created["bottleId"]+"/release", "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBottle_NonParticipantHidden(t *testing.T) {
	server, engine := newTestServer(t)

	id, err := engine.CreateBottle(context.Background(), "alice", "secret")
	require.NoError(t, err)

	// bob never picked it, so for him it does not exist
	rec := doJSON(server, http.MethodGet, "/api/bottles/"+id, "bob-token", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(server, http.MethodGet, "/api/bottles/"+id, "alice-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReplyToBottle_MovesToReplied(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodPost, "/api/bottles", "alice-token", `{"content":"hello out there"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(server, http.MethodGet, "/api/bottles/pick", "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(server, http.MethodPost, "/api/bottles/"+created["bottleId"]+"/messages", "bob-token", `{"content":"hello back"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(server, http.MethodGet, "/api/bottles/"+created["bottleId"], "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var thread struct {
		Status   string `json:"status"`
		Messages []any  `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))
	assert.Equal(t, "replied", thread.Status)
	assert.Len(t, thread.Messages, 2)
}

func TestBottleStats_Public(t *testing.T) {
	server, engine := newTestServer(t)

	_, err := engine.CreateBottle(context.Background(), "alice", "one")
	require.NoError(t, err)

	rec := doJSON(server, http.MethodGet, "/api/bottles/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats bottle.PoolStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Floating)
	assert.Equal(t, 1, stats.Total)
}

func TestMyBottles(t *testing.T) {
	server, engine := newTestServer(t)

	_, err := engine.CreateBottle(context.Background(), "alice", "one")
	require.NoError(t, err)
	_, err = engine.CreateBottle(context.Background(), "alice", "two")
	require.NoError(t, err)

	rec := doJSON(server, http.MethodGet, "/api/bottles/my", "alice-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bottles []any `json:"bottles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Bottles, 2)

	rec = doJSON(server, http.MethodGet, "/api/bottles/my", "bob-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Bottles)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(server, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
