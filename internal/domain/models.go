package domain

import (
	"slices"
	"time"
)

// DuelStatus is the persisted lifecycle state of a duel.
type DuelStatus string

const (
	StatusWaiting      DuelStatus = "waiting"
	StatusInvite       DuelStatus = "invite"
	StatusActive       DuelStatus = "active"
	StatusWaitingForP2 DuelStatus = "waiting_for_p2"
	StatusCompleted    DuelStatus = "completed"
	StatusDeclined     DuelStatus = "declined"
	StatusExpired      DuelStatus = "expired"
)

// PreJoin reports whether the duel is still open for a second player.
func (s DuelStatus) PreJoin() bool {
	return s == StatusWaiting || s == StatusInvite
}

// Terminal reports whether no further gameplay transitions are possible.
func (s DuelStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeclined || s == StatusExpired
}

// DuelMode distinguishes live duels (both players answer each round together) from async ones.
type DuelMode string

const (
	ModeLive  DuelMode = "live"
	ModeAsync DuelMode = "async"
)

// Position identifies a player slot inside a duel.
type Position int

const (
	NoPosition Position = iota
	PlayerOne
	PlayerTwo
)

// Opponent returns the other slot.
func (p Position) Opponent() Position {
	switch p {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	default:
		return NoPosition
	}
}

func (p Position) String() string {
	switch p {
	case PlayerOne:
		return "player_one"
	case PlayerTwo:
		return "player_two"
	default:
		return "none"
	}
}

// ForfeitAnswer marks the answer slot of a player who forfeited.
const ForfeitAnswer = "__forfeit__"

// PlayerSlot holds everything a single player writes into a duel.
type PlayerSlot struct {
	UserID      string     `json:"userId,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	AnswerMs    *int64     `json:"answerMs,omitempty"` // client-reported elapsed time, not wall clock
	Score       int        `json:"score"`
	TotalMs     int64      `json:"totalMs"`
	CompletedAt *time.Time `json:"completedAt,omitempty"` // async pass finished
}

// Answered reports whether the player submitted an answer for the current round.
func (s PlayerSlot) Answered() bool {
	return s.AnswerMs != nil
}

// Duel is a trivia contest between two players.
type Duel struct {
	ID             string     `json:"id"`
	Sport          string     `json:"sport"`
	Mode           DuelMode   `json:"mode"`
	InviteCode     string     `json:"inviteCode,omitempty"`
	PlayerOne      PlayerSlot `json:"playerOne"`
	PlayerTwo      PlayerSlot `json:"playerTwo"`
	QuestionIDs    []string   `json:"questionIds"`
	QuestionCount  int        `json:"questionCount"`
	CurrentRound   int        `json:"currentRound"`
	Status         DuelStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	RoundStartedAt *time.Time `json:"roundStartedAt,omitempty"`
	WinnerID       string     `json:"winnerId,omitempty"` // empty on a tie or before completion
	ResultSeen     bool       `json:"resultSeen"`         // player-one only
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// PositionOf returns the slot held by userID, or NoPosition.
func (d Duel) PositionOf(userID string) Position {
	switch {
	case userID == "":
		return NoPosition
	case d.PlayerOne.UserID == userID:
		return PlayerOne
	case d.PlayerTwo.UserID == userID:
		return PlayerTwo
	default:
		return NoPosition
	}
}

// Slot returns a copy of the slot at position p.
func (d Duel) Slot(p Position) PlayerSlot {
	if p == PlayerTwo {
		return d.PlayerTwo
	}
	return d.PlayerOne
}

// HasOpponent reports whether a second player is set.
func (d Duel) HasOpponent() bool {
	return d.PlayerTwo.UserID != ""
}

// IsFinalRound reports whether the current round is the last one.
func (d Duel) IsFinalRound() bool {
	return d.CurrentRound >= d.QuestionCount
}

// CurrentQuestionID returns the question of the current round if it has been chosen already.
func (d Duel) CurrentQuestionID() (string, bool) {
	idx := d.CurrentRound - 1
	if idx < 0 || idx >= len(d.QuestionIDs) {
		return "", false
	}
	return d.QuestionIDs[idx], true
}

// Expired reports whether a pre-join duel outlived ttl. The check happens at read time; nothing
// needs to have written the expired status.
func (d Duel) Expired(now time.Time, ttl time.Duration) bool {
	if d.Status == StatusExpired {
		return true
	}
	return d.Status.PreJoin() && ttl > 0 && now.Sub(d.CreatedAt) > ttl
}

// WithEffectiveStatus returns the duel as it should be reported at now.
func (d Duel) WithEffectiveStatus(now time.Time, ttl time.Duration) Duel {
	if d.Expired(now, ttl) {
		d.Status = StatusExpired
	}
	return d
}

// Question is an immutable catalog entry.
type Question struct {
	ID         string   `json:"id" yaml:"id"`
	Sport      string   `json:"sport" yaml:"sport"`
	Prompt     string   `json:"prompt" yaml:"prompt"`
	Options    []string `json:"options" yaml:"options"`
	Answer     string   `json:"answer" yaml:"answer"`
	Difficulty string   `json:"difficulty,omitempty" yaml:"difficulty"`
	Category   string   `json:"category,omitempty" yaml:"category"`
	Team       string   `json:"team,omitempty" yaml:"team"`
}

// Condition is the precondition of a conditional store write.
type Condition struct {
	Statuses []DuelStatus // any of; empty means any status
	Round    int          // expected current round; 0 means any
	OpenSeat bool         // player two must still be empty

	// Per-slot guards; NoPosition disables them.
	OpenAnswer Position // that slot has no answer for the current round
	OpenPass   Position // that slot has not submitted its async pass
}

// InStatus builds a condition on the current status only.
func InStatus(statuses ...DuelStatus) Condition {
	return Condition{Statuses: statuses}
}

// AtRound returns a copy of c that also pins the current round.
func (c Condition) AtRound(round int) Condition {
	c.Round = round
	return c
}

// Unanswered returns a copy of c that also requires pos to have no answer recorded.
func (c Condition) Unanswered(pos Position) Condition {
	c.OpenAnswer = pos
	return c
}

// PassPending returns a copy of c that also requires pos to have no async pass recorded.
func (c Condition) PassPending(pos Position) Condition {
	c.OpenPass = pos
	return c
}

// Matches reports whether d satisfies the condition.
func (c Condition) Matches(d Duel) bool {
	if len(c.Statuses) > 0 && !slices.Contains(c.Statuses, d.Status) {
		return false
	}
	if c.Round > 0 && d.CurrentRound != c.Round {
		return false
	}
	if c.OpenSeat && d.HasOpponent() {
		return false
	}
	if c.OpenAnswer != NoPosition && d.Slot(c.OpenAnswer).Answered() {
		return false
	}
	if c.OpenPass != NoPosition && d.Slot(c.OpenPass).CompletedAt != nil {
		return false
	}
	return true
}

// SlotPatch lists optional writes to a single player slot.
type SlotPatch struct {
	UserID      *string
	Answer      *string
	AnswerMs    *int64
	Score       *int
	TotalMs     *int64
	CompletedAt *time.Time
}

func (p SlotPatch) empty() bool {
	return p.UserID == nil && p.Answer == nil && p.AnswerMs == nil && p.Score == nil && p.TotalMs == nil && p.CompletedAt == nil
}

// Patch lists optional writes to a duel. ClearRound empties both answer slots and the round start
// before the other writes are applied.
type Patch struct {
	Status         *DuelStatus
	QuestionIDs    []string
	CurrentRound   *int
	RoundStartedAt *time.Time
	ClearRound     bool
	WinnerID       *string
	ResultSeen     *bool
	PlayerOne      SlotPatch
	PlayerTwo      SlotPatch
}

// Slot returns a pointer to the slot patch for p so callers can fill it in place.
func (p *Patch) Slot(pos Position) *SlotPatch {
	if pos == PlayerTwo {
		return &p.PlayerTwo
	}
	return &p.PlayerOne
}

// Apply returns d with the patch written over it.
func (p Patch) Apply(d Duel, now time.Time) Duel {
	if p.ClearRound {
		d.PlayerOne.Answer, d.PlayerOne.AnswerMs = "", nil
		d.PlayerTwo.Answer, d.PlayerTwo.AnswerMs = "", nil
		d.RoundStartedAt = nil
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.QuestionIDs != nil {
		d.QuestionIDs = slices.Clone(p.QuestionIDs)
	}
	if p.CurrentRound != nil {
		d.CurrentRound = *p.CurrentRound
	}
	if p.RoundStartedAt != nil {
		t := *p.RoundStartedAt
		d.RoundStartedAt = &t
	}
	if p.WinnerID != nil {
		d.WinnerID = *p.WinnerID
	}
	if p.ResultSeen != nil {
		d.ResultSeen = *p.ResultSeen
	}
	d.PlayerOne = p.PlayerOne.apply(d.PlayerOne)
	d.PlayerTwo = p.PlayerTwo.apply(d.PlayerTwo)
	d.UpdatedAt = now
	return d
}

func (p SlotPatch) apply(s PlayerSlot) PlayerSlot {
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.Answer != nil {
		s.Answer = *p.Answer
	}
	if p.AnswerMs != nil {
		v := *p.AnswerMs
		s.AnswerMs = &v
	}
	if p.Score != nil {
		s.Score = *p.Score
	}
	if p.TotalMs != nil {
		s.TotalMs = *p.TotalMs
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Fields names the field groups a patch touches, for DuelUpdated events.
func (p Patch) Fields() []string {
	var fields []string
	add := func(ok bool, name string) {
		if ok {
			fields = append(fields, name)
		}
	}
	add(p.Status != nil, "status")
	add(p.QuestionIDs != nil, "question_ids")
	add(p.CurrentRound != nil, "current_round")
	add(p.ClearRound || p.RoundStartedAt != nil, "round")
	add(p.WinnerID != nil, "winner")
	add(p.ResultSeen != nil, "result_seen")
	add(!p.PlayerOne.empty(), PlayerOne.String())
	add(!p.PlayerTwo.empty(), PlayerTwo.String())
	return fields
}

// DuelEvent is emitted after every committed duel operation.
type DuelEvent struct {
	DuelID  string     `json:"duelId"`
	Fields  []string   `json:"fields"`
	Status  DuelStatus `json:"status"`
	Round   int        `json:"round"`
	Deleted bool       `json:"deleted,omitempty"`
	At      time.Time  `json:"at"`
}

// Result is the outcome reported to a single player in a completion notification.
type Result string

const (
	ResultWin      Result = "win"
	ResultLoss     Result = "loss"
	ResultTie      Result = "tie"
	ResultDeclined Result = "declined"
)

// ResultFor returns the completed duel's outcome from userID's perspective.
func (d Duel) ResultFor(userID string) Result {
	switch {
	case d.Status == StatusDeclined:
		return ResultDeclined
	case d.WinnerID == "":
		return ResultTie
	case d.WinnerID == userID:
		return ResultWin
	default:
		return ResultLoss
	}
}
