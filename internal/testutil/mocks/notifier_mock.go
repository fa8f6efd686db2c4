package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"trivia-duel-service/internal/domain"
)

// MockNotifier is a mock implementation of app.Notifier
type MockNotifier struct {
	mock.Mock
}

// NewPermissiveNotifier returns a notifier that accepts every call and records it.
func NewPermissiveNotifier() *MockNotifier {
	m := &MockNotifier{}
	m.On("NotifyChallenge", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("NotifyTurn", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("NotifyComplete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

func (m *MockNotifier) NotifyChallenge(ctx context.Context, recipientID, duelID, challengerName string) error {
	args := m.Called(ctx, recipientID, duelID, challengerName)
	return args.Error(0)
}

func (m *MockNotifier) NotifyTurn(ctx context.Context, recipientID, duelID string) error {
	args := m.Called(ctx, recipientID, duelID)
	return args.Error(0)
}

func (m *MockNotifier) NotifyComplete(ctx context.Context, recipientID, duelID string, result domain.Result) error {
	args := m.Called(ctx, recipientID, duelID, result)
	return args.Error(0)
}
