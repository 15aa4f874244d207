package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// CountTokens returns the cl100k_base token count for text. The encoding is
// an approximation for non-OpenAI models but close enough for history
// budgeting.
func CountTokens(text string) (int, error) {
	c, err := getCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EstimateTokens is CountTokens with errors collapsed to zero.
func EstimateTokens(text string) int {
	n, err := CountTokens(text)
	if err != nil {
		return 0
	}
	return n
}

// MessagesTokenCount sums the text content of messages, for trimming
// history against a model's context window.
func MessagesTokenCount(messages []Message) int {
	total := 0
	for _, msg := range messages {
		for _, part := range msg.Content {
			if part.Text != "" {
				total += EstimateTokens(part.Text)
			}
			if part.ArgsJSON != "" {
				total += EstimateTokens(part.ArgsJSON)
			}
		}
	}
	return total
}
