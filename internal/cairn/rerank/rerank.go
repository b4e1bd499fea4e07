// Package rerank implements Cairn's Reranker contract (spec §4.9): scoring
// a (query, candidate) pair with a model sharper than the RRF blend, used
// to re-sort the enhanced search pipeline's candidate pool before the
// token-budget trim.
//
// Grounded on original_source/cairn/core/reranker/{interface,local,bedrock}.py.
// The Python Local reranker loads an in-process sentence-transformers
// cross-encoder; Go has no equivalent in this pack's dependency surface, so
// Local here calls out to an HTTP scoring endpoint instead (the same
// lazy-dial, JSON-over-HTTP shape as pkg/provider/embeddings/ollama), which
// is how a cross-encoder is served outside of Python in practice (e.g. a
// sentence-transformers server, a TEI deployment). Cloud mirrors Bedrock's
// Rerank API request/response shape and its stated 500-document /
// 4000-character caps.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Candidate is the minimal shape a Reranker needs: an opaque ID to carry a
// score back to, and the text to score against the query.
type Candidate struct {
	ID      int64
	Content string

	// Score carries the caller's existing (e.g. RRF) score, kept so a
	// failed rerank can fall back to the original order.
	Score float64

	// RerankScore is set by a Reranker; zero until Rerank has run.
	RerankScore float64
}

// Reranker scores candidates against query and returns the top limit by
// relevance. Implementations must return candidates unchanged (truncated
// to limit) rather than an error when reranking cannot complete — spec §7's
// fallback contract extends to this stage: a reranker outage degrades to
// RRF order, it never fails the search.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, limit int) []Candidate
}

// truncate caps candidates at limit, used by every implementation's
// passthrough and error paths.
func truncate(candidates []Candidate, limit int) []Candidate {
	if limit > 0 && len(candidates) > limit {
		return candidates[:limit]
	}
	return candidates
}

// ─────────────────────────────────────────────────────────────────────────────
// Local — HTTP cross-encoder scoring endpoint
// ─────────────────────────────────────────────────────────────────────────────

// Local reranks via a configurable HTTP scoring endpoint, connected to
// lazily (matching local.py's lazy-loaded model: nothing is dialed until
// the first Rerank call).
type Local struct {
	endpoint   string
	httpClient *http.Client
}

// NewLocal constructs a Local reranker targeting endpoint, which must accept
// a POST of {"query": "...", "documents": ["...", ...]} and respond with
// {"scores": [float, ...]} in input order.
func NewLocal(endpoint string, timeout time.Duration) *Local {
	client := &http.Client{}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &Local{endpoint: endpoint, httpClient: client}
}

type localRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type localResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank implements Reranker. Candidates are left unmodified (caller's
// original order, truncated to limit) on any failure — scoring-endpoint
// unavailability must never block search.
func (l *Local) Rerank(ctx context.Context, query string, candidates []Candidate, limit int) []Candidate {
	if len(candidates) <= limit {
		return candidates
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	body, err := json.Marshal(localRequest{Query: query, Documents: docs})
	if err != nil {
		return truncate(candidates, limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return truncate(candidates, limit)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return truncate(candidates, limit)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return truncate(candidates, limit)
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.Scores) != len(candidates) {
		return truncate(candidates, limit)
	}

	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].RerankScore = result.Scores[i]
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].RerankScore > scored[j].RerankScore })
	return truncate(scored, limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Cloud — Bedrock-Rerank-API-shaped HTTP reranker
// ─────────────────────────────────────────────────────────────────────────────

// Cloud document/source limits, ported from bedrock.py's MAX_DOCS /
// MAX_DOC_CHARS.
const (
	cloudMaxDocs     = 500
	cloudMaxDocChars = 4000
)

// Cloud reranks via an HTTP endpoint shaped after AWS Bedrock's Rerank API
// (a single textQuery plus an array of inline text sources). Any signing
// requirement lives in the http.Client passed to NewCloud.
type Cloud struct {
	endpoint   string
	httpClient *http.Client
}

// NewCloud constructs a Cloud reranker. Pass an http.Client with whatever
// transport performs request signing for the target deployment.
func NewCloud(endpoint string, client *http.Client) *Cloud {
	if client == nil {
		client = &http.Client{}
	}
	return &Cloud{endpoint: endpoint, httpClient: client}
}

type cloudSource struct {
	Type               string `json:"type"`
	InlineDocumentText string `json:"text"`
}

type cloudRequest struct {
	Query   string        `json:"query"`
	Sources []cloudSource `json:"sources"`
	Limit   int           `json:"numberOfResults"`
}

type cloudResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevanceScore"`
}

type cloudResponse struct {
	Results []cloudResult `json:"results"`
}

// Rerank implements Reranker, applying the cloudMaxDocs/cloudMaxDocChars
// caps before the request and falling back to the original order (truncated
// to limit) on any failure.
func (c *Cloud) Rerank(ctx context.Context, query string, candidates []Candidate, limit int) []Candidate {
	if len(candidates) <= limit {
		return candidates
	}

	scoped := candidates
	if len(scoped) > cloudMaxDocs {
		scoped = scoped[:cloudMaxDocs]
	}

	sources := make([]cloudSource, len(scoped))
	for i, c := range scoped {
		text := c.Content
		if len(text) > cloudMaxDocChars {
			text = text[:cloudMaxDocChars]
		}
		sources[i] = cloudSource{Type: "TEXT", InlineDocumentText: text}
	}

	body, err := json.Marshal(cloudRequest{Query: query, Sources: sources, Limit: limit})
	if err != nil {
		return truncate(candidates, limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return truncate(candidates, limit)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return truncate(candidates, limit)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return truncate(candidates, limit)
	}

	var result cloudResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return truncate(candidates, limit)
	}

	reranked := make([]Candidate, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(scoped) {
			continue
		}
		c := scoped[r.Index]
		c.RerankScore = r.RelevanceScore
		reranked = append(reranked, c)
	}
	return truncate(reranked, limit)
}
