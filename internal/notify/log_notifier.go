// Package notify holds the Notifier used when no push outbox is configured.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"trivia-duel-service/internal/domain"
)

// LogNotifier records notifications in the service log instead of delivering them.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogNotifier{log: log.WithField("component", "notifier")}
}

func (n *LogNotifier) NotifyChallenge(_ context.Context, recipientID, duelID, challengerName string) error {
	n.log.WithFields(logrus.Fields{
		"recipient":  recipientID,
		"duel_id":    duelID,
		"challenger": challengerName,
	}).Info("challenge notification")
	return nil
}

func (n *LogNotifier) NotifyTurn(_ context.Context, recipientID, duelID string) error {
	n.log.WithFields(logrus.Fields{"recipient": recipientID, "duel_id": duelID}).Info("turn notification")
	return nil
}

func (n *LogNotifier) NotifyComplete(_ context.Context, recipientID, duelID string, result domain.Result) error {
	n.log.WithFields(logrus.Fields{
		"recipient": recipientID,
		"duel_id":   duelID,
		"result":    result,
	}).Info("completion notification")
	return nil
}
