package gate

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// emojiPools are the themed token sets a challenge draws from. Tokens
// within a pool are distinct so an option set contains the answer exactly
// once.
var emojiPools = [][]string{
	{"🍄", "🍁", "💯", "📦", "🔥"},
	{"💯", "🍂", "🍄", "🔥", "🤖"},
}

// maxChallengeOptions caps the option set presented to the user.
const maxChallengeOptions = 3

// Challenge is a single-use selection puzzle: the user must pick Answer
// out of Options.
type Challenge struct {
	Answer  string
	Options []string
}

// NewChallenge picks a themed pool, selects one token as the answer and
// returns it with a shuffled option set of at most three tokens that
// contains the answer exactly once. Stateless; callable indefinitely.
func NewChallenge() (Challenge, error) {
	pool, err := pick(emojiPools)
	if err != nil {
		return Challenge{}, err
	}

	n := len(pool)
	if n > maxChallengeOptions {
		n = maxChallengeOptions
	}
	sample, err := sampleTokens(pool, n)
	if err != nil {
		return Challenge{}, err
	}
	answer, err := pick(sample)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Answer: answer, Options: sample}, nil
}

// sampleTokens returns n distinct tokens from pool in random order.
func sampleTokens(pool []string, n int) ([]string, error) {
	shuffled := append([]string(nil), pool...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return nil, err
		}
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n], nil
}

func pick[T any](items []T) (T, error) {
	var zero T
	i, err := randIntn(len(items))
	if err != nil {
		return zero, err
	}
	return items[i], nil
}

func randIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generating random index: %w", err)
	}
	return int(v.Int64()), nil
}
