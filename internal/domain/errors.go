package domain

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not a participant of the duel, or holds the
	// wrong position for the requested operation.
	ErrUnauthorized = errors.New("caller not allowed to perform this duel operation")
	// ErrPreconditionFailed is returned when a conditional write observed a stale state or round.
	// Callers re-fetch and retry or abandon.
	ErrPreconditionFailed = errors.New("duel changed since it was read")
	// ErrNotFound indicates the duel or invite code does not exist.
	ErrNotFound = errors.New("duel not found")
	// ErrAlreadyJoined indicates the duel already has a second player.
	ErrAlreadyJoined = errors.New("duel already joined")
	// ErrExpired indicates the duel was never joined within the invite TTL.
	ErrExpired = errors.New("duel expired")
	// ErrOwnDuel indicates a player tried to join a duel they created.
	ErrOwnDuel = errors.New("cannot join your own duel")
	// ErrConflict is returned by stores when an invite code (or ID) is already taken.
	ErrConflict = errors.New("duel conflicts with an existing record")
	// ErrContentExhausted indicates there are no questions at all for the requested sport.
	ErrContentExhausted = errors.New("no questions available")
	// ErrInvalidQuestionCount rejects duels with a non-positive question count.
	ErrInvalidQuestionCount = errors.New("question count must be positive")
	// ErrQuestionNotFound indicates a question ID is not part of the sport catalog.
	ErrQuestionNotFound = errors.New("question not found")
)
