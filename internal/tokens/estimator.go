// internal/tokens/estimator.go

// Package tokens estimates the token size of streamed reply text so
// progress displays can show how large the response is growing.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens with the tokenizer matching the server's model.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// New creates an estimator for the given model name. Unknown models fall
// back to the cl100k_base encoding.
func New(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Estimator{enc: enc}, nil
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}
