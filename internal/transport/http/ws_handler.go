package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/domain"
)

type WSHandler struct {
	service  *app.DuelService
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.DuelService, log logrus.FieldLogger) *WSHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS streams DuelUpdated events of one duel to a participant and accepts in-duel actions
// (answer, advance, finishRound, forfeit) over the same connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	duelID := r.URL.Query().Get("duelId")
	userID := caller(r)
	if userID == "" {
		// browsers cannot set headers on the upgrade request
		userID = r.URL.Query().Get("userId")
	}
	if duelID == "" || userID == "" {
		http.Error(w, "missing duelId or user", http.StatusBadRequest)
		return
	}
	log := h.log.WithFields(logrus.Fields{"duel_id": duelID, "user_id": userID})

	// authorise before upgrading so outsiders get a plain HTTP error
	updates, cancel, err := h.service.Subscribe(r.Context(), duelID, userID)
	if err != nil {
		status, code := classify(err)
		http.Error(w, code, status)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	snapshot, err := h.service.Get(r.Context(), duelID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorBody]{Type: "error", Payload: errorPayload(err)})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "duelUpdated", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "snapshot", Payload: snapshot}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		duel, err := h.dispatch(r, duelID, userID, inbound)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload(err)}
			continue
		}
		send <- outboundMessage[any]{Type: "duel", Payload: duel}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, duelID, userID string, inbound inboundMessage) (domain.Duel, error) {
	ctx := r.Context()
	switch inbound.Type {
	case "answer":
		var payload answerRequest
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return domain.Duel{}, errInvalidPayload
		}
		return h.service.SubmitAnswer(ctx, duelID, userID, payload.Answer, payload.ElapsedMs)
	case "advance":
		var payload advanceRequest
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return domain.Duel{}, errInvalidPayload
		}
		return h.service.AdvanceRound(ctx, duelID, userID, payload.toApp())
	case "finishRound":
		return h.service.FinishRound(ctx, duelID, userID)
	case "forfeit":
		return h.service.Forfeit(ctx, duelID, userID)
	default:
		return domain.Duel{}, errUnsupportedMessage
	}
}
