package util

import (
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens returns the o200k_base token count of text. When the encoding
// cannot be loaded the whitespace word count is used instead.
func CountTokens(text string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			logger.Warn("[Util] Token encoding unavailable, counting words", "encoding", tokenEncoding, "err", err)
			return
		}
		enc = e
	})
	if enc == nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}
