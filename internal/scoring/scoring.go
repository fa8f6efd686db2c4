// Package scoring decides round and duel winners. Everything here is pure.
package scoring

import "trivia-duel-service/internal/domain"

// Attempt is one player's answer to a single question.
type Attempt struct {
	Correct   bool
	ElapsedMs int64
}

// RoundWinner resolves a single question. A correct answer beats a wrong one; between two correct
// answers the lower elapsed time wins. Equal times are a tie rather than being broken by submission
// order.
func RoundWinner(one, two Attempt) domain.Position {
	switch {
	case one.Correct && !two.Correct:
		return domain.PlayerOne
	case two.Correct && !one.Correct:
		return domain.PlayerTwo
	case !one.Correct && !two.Correct:
		return domain.NoPosition
	case one.ElapsedMs < two.ElapsedMs:
		return domain.PlayerOne
	case two.ElapsedMs < one.ElapsedMs:
		return domain.PlayerTwo
	default:
		return domain.NoPosition
	}
}

// SeriesWinner resolves a multi-question duel strictly by cumulative score. Time never breaks a
// series tie.
func SeriesWinner(oneScore, twoScore int) domain.Position {
	switch {
	case oneScore > twoScore:
		return domain.PlayerOne
	case twoScore > oneScore:
		return domain.PlayerTwo
	default:
		return domain.NoPosition
	}
}

// WinnerID maps a winning position to the user holding it, or "" for a tie.
func WinnerID(d domain.Duel, p domain.Position) string {
	switch p {
	case domain.PlayerOne:
		return d.PlayerOne.UserID
	case domain.PlayerTwo:
		return d.PlayerTwo.UserID
	default:
		return ""
	}
}

// IsCorrect compares a submitted answer with the question's correct option.
func IsCorrect(q domain.Question, answer string) bool {
	return answer != "" && answer != domain.ForfeitAnswer && answer == q.Answer
}
