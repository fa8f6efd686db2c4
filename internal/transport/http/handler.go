package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/app"
	"trivia-duel-service/internal/domain"
)

// UserHeader carries the authenticated caller. The API gateway sets it after verifying the session.
const UserHeader = "X-User-ID"

// Handler exposes the duel use cases as a JSON API.
type Handler struct {
	service      *app.DuelService
	log          logrus.FieldLogger
	defaultCount int
}

func NewHandler(service *app.DuelService, log logrus.FieldLogger, defaultQuestionCount int) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if defaultQuestionCount <= 0 {
		defaultQuestionCount = 5
	}
	return &Handler{service: service, log: log, defaultCount: defaultQuestionCount}
}

// Register mounts the API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /duels/match", h.match)
	mux.HandleFunc("POST /duels/invite", h.invite)
	mux.HandleFunc("POST /duels/challenge", h.challenge)
	mux.HandleFunc("POST /duels/join-code", h.joinByCode)
	mux.HandleFunc("GET /duels", h.list)
	mux.HandleFunc("GET /duels/{id}", h.get)
	mux.HandleFunc("POST /duels/{id}/join", h.join)
	mux.HandleFunc("POST /duels/{id}/answer", h.answer)
	mux.HandleFunc("POST /duels/{id}/advance", h.advance)
	mux.HandleFunc("POST /duels/{id}/finish-round", h.finishRound)
	mux.HandleFunc("POST /duels/{id}/async-result", h.asyncResult)
	mux.HandleFunc("POST /duels/{id}/forfeit", h.forfeit)
	mux.HandleFunc("POST /duels/{id}/cancel", h.cancel)
	mux.HandleFunc("POST /duels/{id}/decline", h.decline)
	mux.HandleFunc("POST /duels/{id}/seen", h.seen)
}

type createRequest struct {
	Sport         string `json:"sport"`
	QuestionCount int    `json:"questionCount"`
}

type challengeRequest struct {
	Sport          string          `json:"sport"`
	OpponentID     string          `json:"opponentId"`
	ChallengerName string          `json:"challengerName"`
	QuestionCount  int             `json:"questionCount"`
	Mode           domain.DuelMode `json:"mode"`
}

type joinCodeRequest struct {
	Code string `json:"code"`
}

type answerRequest struct {
	Answer    string `json:"answer"`
	ElapsedMs int64  `json:"elapsedMs"`
}

type advanceRequest struct {
	ExpectedRound    int    `json:"expectedRound"`
	NextQuestionID   string `json:"nextQuestionId"`
	PlayerOneCorrect bool   `json:"playerOneCorrect"`
	PlayerTwoCorrect bool   `json:"playerTwoCorrect"`
	PlayerOneMs      int64  `json:"playerOneMs"`
	PlayerTwoMs      int64  `json:"playerTwoMs"`
}

func (r advanceRequest) toApp() app.AdvanceRequest {
	return app.AdvanceRequest{
		ExpectedRound:    r.ExpectedRound,
		NextQuestionID:   r.NextQuestionID,
		PlayerOneCorrect: r.PlayerOneCorrect,
		PlayerTwoCorrect: r.PlayerTwoCorrect,
		PlayerOneMs:      r.PlayerOneMs,
		PlayerTwoMs:      r.PlayerTwoMs,
	}
}

type asyncResultRequest struct {
	Score   int   `json:"score"`
	TotalMs int64 `json:"totalMs"`
}

type declineRequest struct {
	Reason string `json:"reason"`
}

type listResponse struct {
	Duels []domain.Duel `json:"duels"`
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.FindOrCreate(r.Context(), req.Sport, caller(r), h.count(req.QuestionCount))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.CreateInvite(r.Context(), req.Sport, caller(r), h.count(req.QuestionCount))
	h.respond(w, r, http.StatusCreated, d, err)
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.ChallengeFriend(r.Context(), app.ChallengeRequest{
		Sport:          req.Sport,
		ChallengerID:   caller(r),
		ChallengerName: req.ChallengerName,
		OpponentID:     req.OpponentID,
		QuestionCount:  h.count(req.QuestionCount),
		Mode:           req.Mode,
	})
	h.respond(w, r, http.StatusCreated, d, err)
}

func (h *Handler) joinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinCodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.JoinByCode(r.Context(), req.Code, caller(r))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	duels, err := h.service.ListForPlayer(r.Context(), caller(r))
	if duels == nil {
		duels = []domain.Duel{}
	}
	h.respond(w, r, http.StatusOK, listResponse{Duels: duels}, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), r.PathValue("id"))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Join(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.SubmitAnswer(r.Context(), r.PathValue("id"), caller(r), req.Answer, req.ElapsedMs)
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.AdvanceRound(r.Context(), r.PathValue("id"), caller(r), req.toApp())
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) finishRound(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.FinishRound(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) asyncResult(w http.ResponseWriter, r *http.Request) {
	var req asyncResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.SubmitAsyncResult(r.Context(), r.PathValue("id"), caller(r), req.Score, req.TotalMs)
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) forfeit(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Forfeit(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), r.PathValue("id"), caller(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decline(w http.ResponseWriter, r *http.Request) {
	var req declineRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.service.Decline(r.Context(), r.PathValue("id"), caller(r), req.Reason)
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) seen(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.MarkResultSeen(r.Context(), r.PathValue("id"), caller(r))
	h.respond(w, r, http.StatusOK, d, err)
}

func (h *Handler) count(requested int) int {
	if requested == 0 {
		return h.defaultCount
	}
	return requested
}

// decode reads an optional JSON body. An empty body leaves dst untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_request", Message: "malformed JSON body"})
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Error("request failed")
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

func caller(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// NewRouter builds the complete HTTP surface: health check, JSON API and the websocket endpoint.
func NewRouter(service *app.DuelService, log logrus.FieldLogger, defaultQuestionCount int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	NewHandler(service, log, defaultQuestionCount).Register(mux)
	mux.HandleFunc("GET /ws", NewWSHandler(service, log).ServeWS)
	return mux
}
