package http

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/domain"
	"trivia-duel-service/internal/infra/memory"
	"trivia-duel-service/internal/notify"
	"trivia-duel-service/internal/selector"
	"trivia-duel-service/internal/testutil"
)

func newTestService() *app.DuelService {
	log := testutil.QuietLogger()
	catalog := memory.NewQuestionCatalog(memory.NewStaticQuestionLoader(map[string][]domain.Question{
		"nba": testutil.Questions("nba", 12),
	}), time.Minute)
	return app.NewDuelService(memory.NewDuelStore(), memory.NewEventBus(), notify.NewLogNotifier(log), catalog,
		selector.New(rand.New(rand.NewSource(1)), log), app.Options{Log: log})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(newTestService(), testutil.QuietLogger(), 3))
	t.Cleanup(server.Close)
	return server
}

func call(t *testing.T, server *httptest.Server, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func decodeDuel(t *testing.T, raw []byte) domain.Duel {
	t.Helper()
	var d domain.Duel
	require.NoError(t, json.Unmarshal(raw, &d))
	return d
}

func decodeError(t *testing.T, raw []byte) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, body := call(t, server, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestMatchAndPlayOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp, body := call(t, server, http.MethodPost, "/duels/match", "alice", map[string]any{"sport": "nba"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	waiting := decodeDuel(t, body)
	assert.Equal(t, domain.StatusWaiting, waiting.Status)
	assert.Equal(t, 3, waiting.QuestionCount, "default question count applies")

	resp, body = call(t, server, http.MethodPost, "/duels/match", "bob", map[string]any{"sport": "nba", "questionCount": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, waiting.ID, decodeDuel(t, body).ID)

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/answer", "alice", map[string]any{"answer": "right", "elapsedMs": 1200})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/answer", "mallory", map[string]any{"answer": "right"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, body).Code)

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/answer", "bob", map[string]any{"answer": "wrong", "elapsedMs": 900})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/finish-round", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	next := decodeDuel(t, body)
	assert.Equal(t, 2, next.CurrentRound)
	assert.Equal(t, 1, next.PlayerOne.Score)

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/advance", "alice", map[string]any{"expectedRound": 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "precondition_failed", decodeError(t, body).Code)

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/forfeit", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "alice", decodeDuel(t, body).WinnerID)

	resp, body = call(t, server, http.MethodPost, "/duels/"+waiting.ID+"/seen", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, decodeDuel(t, body).ResultSeen)

	resp, body = call(t, server, http.MethodGet, "/duels", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed listResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Duels, 1)
	assert.Equal(t, domain.StatusCompleted, listed.Duels[0].Status)
}

func TestInviteFlowErrors(t *testing.T) {
	server := newTestServer(t)

	resp, body := call(t, server, http.MethodPost, "/duels/invite", "alice", map[string]any{"sport": "nba", "questionCount": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	invite := decodeDuel(t, body)
	require.NotEmpty(t, invite.InviteCode)

	resp, body = call(t, server, http.MethodPost, "/duels/join-code", "alice", map[string]any{"code": invite.InviteCode})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "own_duel", decodeError(t, body).Code)

	resp, body = call(t, server, http.MethodPost, "/duels/join-code", "bob", map[string]any{"code": "ZZZZZZ"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, body).Code)

	resp, _ = call(t, server, http.MethodPost, "/duels/"+invite.ID+"/cancel", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = call(t, server, http.MethodPost, "/duels/"+invite.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = call(t, server, http.MethodGet, "/duels/"+invite.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, body).Code)
}

func TestChallengeAndDecline(t *testing.T) {
	server := newTestServer(t)

	resp, body := call(t, server, http.MethodPost, "/duels/challenge", "alice",
		map[string]any{"sport": "nba", "opponentId": "bob", "challengerName": "Alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	challenge := decodeDuel(t, body)

	resp, body = call(t, server, http.MethodPost, "/duels/"+challenge.ID+"/decline", "bob", map[string]any{"reason": "busy"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, domain.StatusDeclined, decodeDuel(t, body).Status)

	resp, body = call(t, server, http.MethodPost, "/duels/"+challenge.ID+"/join", "bob", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_joined", decodeError(t, body).Code)
}

func TestAsyncResultOverHTTP(t *testing.T) {
	server := newTestServer(t)

	resp, body := call(t, server, http.MethodPost, "/duels/challenge", "alice",
		map[string]any{"sport": "nba", "opponentId": "bob", "mode": "async", "questionCount": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	d := decodeDuel(t, body)
	assert.Equal(t, domain.StatusWaitingForP2, d.Status)

	resp, _ = call(t, server, http.MethodPost, "/duels/"+d.ID+"/async-result", "alice", map[string]any{"score": 2, "totalMs": 9000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = call(t, server, http.MethodPost, "/duels/"+d.ID+"/async-result", "bob", map[string]any{"score": 1, "totalMs": 4000})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	final := decodeDuel(t, body)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "alice", final.WinnerID)
}

func TestBadRequests(t *testing.T) {
	server := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/duels/match", bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set(UserHeader, "alice")
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := call(t, server, http.MethodPost, "/duels/match", "alice", map[string]any{"sport": "nba", "questionCount": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, body).Code)

	resp, body = call(t, server, http.MethodPost, "/duels/match", "alice", map[string]any{"sport": "curling"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "content_exhausted", decodeError(t, body).Code)

	resp, _ = call(t, server, http.MethodPost, "/duels/match", "", map[string]any{"sport": "nba"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
