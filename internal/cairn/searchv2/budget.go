package searchv2

import "github.com/pkoukk/tiktoken-go"

// tiktokenEncoding is cl100k_base, the same encoding original_source/cairn
// uses for its own token estimation (tiktoken is OpenAI's own library; no
// Python precedent needed beyond "count tokens the way the LLM will").
const tiktokenEncoding = "cl100k_base"

// tokenCounter wraps a tiktoken encoding, loaded once when the counter is
// built, so a missing or
// unreachable encoding file degrades to a length/4 heuristic rather than
// failing the search pipeline (spec §7's fallback contract applies here
// too: an estimator failure must never block results).
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter() *tokenCounter {
	enc, err := tiktoken.GetEncoding(tiktokenEncoding)
	if err != nil {
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

// estimate returns the token count for text, falling back to a 4-chars-per-
// token heuristic when the encoding failed to load.
func (c *tokenCounter) estimate(text string) int {
	if c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
