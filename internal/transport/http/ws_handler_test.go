package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trivia-duel-service/internal/testutil"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	service := newTestService()
	server := httptest.NewServer(NewRouter(service, testutil.QuietLogger(), 3))
	defer server.Close()

	ctx := context.Background()
	duel, err := service.FindOrCreate(ctx, "nba", "alice", 3)
	if err != nil {
		t.Fatalf("create duel: %v", err)
	}
	if _, err := service.FindOrCreate(ctx, "nba", "bob", 3); err != nil {
		t.Fatalf("join duel: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?duelId=" + duel.ID + "&userId=alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect snapshot first.
	_, payload := readNext(conn, t, "snapshot")
	if payload["status"] != "active" {
		t.Fatalf("expected active snapshot, got %v", payload["status"])
	}

	// Send an answer.
	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"answer":    "right",
			"elapsedMs": 1500,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// Expect the updated duel and the event, in either order.
	duelSeen := false
	eventSeen := false
	for i := 0; i < 2; i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "duel":
			duelSeen = true
			playerOne, _ := payload["playerOne"].(map[string]any)
			if playerOne["answer"] != "right" {
				t.Fatalf("answer not recorded: %v", payload)
			}
		case "duelUpdated":
			eventSeen = true
		}
	}
	if !duelSeen || !eventSeen {
		t.Fatalf("expected duel and duelUpdated, got duel=%v duelUpdated=%v", duelSeen, eventSeen)
	}

	// Actions of the other player reach this connection as events.
	if _, err := service.SubmitAnswer(ctx, duel.ID, "bob", "wrong", 700); err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	_, event := readNext(conn, t, "duelUpdated")
	if event["duelId"] != duel.ID {
		t.Fatalf("unexpected event %v", event)
	}

	if err := conn.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, errPayload := readNext(conn, t, "error")
	if errPayload["code"] != "invalid_request" {
		t.Fatalf("unexpected error payload %v", errPayload)
	}
}

func TestWebSocketRejectsOutsiders(t *testing.T) {
	service := newTestService()
	server := httptest.NewServer(NewRouter(service, testutil.QuietLogger(), 3))
	defer server.Close()

	duel, err := service.FindOrCreate(context.Background(), "nba", "alice", 3)
	if err != nil {
		t.Fatalf("create duel: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?duelId=" + duel.ID
	header := http.Header{}
	header.Set(UserHeader, "mallory")
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
