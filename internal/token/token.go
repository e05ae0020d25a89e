package token

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding used for estimates. Matches the vocabulary of current frontier
// models closely enough for a context-budget hint.
const Encoding = "o200k_base"

// Estimator counts tokens with a tiktoken encoding. The encoding data is
// loaded lazily on first use and reused for the life of the process; a load
// failure is remembered and reported on every call rather than retried.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns the number of tokens in text. Callers treat an error as
// "no estimate available", never as a failure of the surrounding operation.
func (e *Estimator) Count(text string) (int, error) {
	e.once.Do(func() {
		e.enc, e.err = tiktoken.GetEncoding(Encoding)
	})
	if e.err != nil {
		return 0, fmt.Errorf("load %s encoding: %w", Encoding, e.err)
	}
	// Special-token text in paper bodies is treated as ordinary input.
	return len(e.enc.Encode(text, []string{"all"}, nil)), nil
}

// Format renders a token count in compact human form: 12, 3.4k, 1.2M.
func Format(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
