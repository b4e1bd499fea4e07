package rerank

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func candidatesOf(ids ...int64) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{ID: id, Content: "text"}
	}
	return out
}

func TestLocal_ReordersCandidatesByScore(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req localRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(localResponse{Scores: []float64{0.1, 0.9, 0.5}})
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, 0)
	out := l.Rerank(t.Context(), "query", candidatesOf(1, 2, 3), 2)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].ID != 2 {
		t.Errorf("out[0].ID = %d, want 2 (highest score)", out[0].ID)
	}
}

func TestLocal_FallsBackOnNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, 0)
	in := candidatesOf(1, 2, 3)
	out := l.Rerank(t.Context(), "query", in, 2)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (truncated original order)", len(out))
	}
	if out[0].ID != 1 || out[1].ID != 2 {
		t.Errorf("order = %v, want original order preserved on fallback", out)
	}
}

func TestLocal_FallsBackOnMismatchedScoreCount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(localResponse{Scores: []float64{0.1}})
	}))
	defer srv.Close()

	l := NewLocal(srv.URL, 0)
	out := l.Rerank(t.Context(), "query", candidatesOf(1, 2, 3), 2)
	if len(out) != 2 || out[0].ID != 1 {
		t.Errorf("out = %v, want original order truncated on score-count mismatch", out)
	}
}

func TestLocal_SkipsCallWhenUnderLimit(t *testing.T) {
	t.Parallel()

	l := NewLocal("http://unused.invalid", 0)
	in := candidatesOf(1, 2)
	out := l.Rerank(t.Context(), "query", in, 5)
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2 (no rerank needed below limit)", len(out))
	}
}

func TestCloud_ReordersByRelevanceScore(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(cloudResponse{Results: []cloudResult{
			{Index: 2, RelevanceScore: 0.9},
			{Index: 0, RelevanceScore: 0.5},
		}})
	}))
	defer srv.Close()

	c := NewCloud(srv.URL, nil)
	out := c.Rerank(t.Context(), "query", candidatesOf(1, 2, 3, 4, 5, 6), 5)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (only indices returned by the API)", len(out))
	}
	if out[0].ID != 3 {
		t.Errorf("out[0].ID = %d, want 3 (index 2, highest relevance)", out[0].ID)
	}
}

func TestCloud_FallsBackOnTransportError(t *testing.T) {
	t.Parallel()

	c := NewCloud("http://127.0.0.1:0", nil)
	in := candidatesOf(1, 2, 3)
	out := c.Rerank(t.Context(), "query", in, 2)
	if len(out) != 2 || out[0].ID != 1 {
		t.Errorf("out = %v, want original order truncated on transport failure", out)
	}
}

func TestCloud_DefaultsHTTPClientWhenNil(t *testing.T) {
	t.Parallel()

	c := NewCloud("http://unused.invalid", nil)
	if c.httpClient == nil {
		t.Fatal("expected NewCloud to default httpClient when nil is passed")
	}
}

func TestCloud_SkipsCallWhenUnderLimit(t *testing.T) {
	t.Parallel()

	c := NewCloud("http://unused.invalid", nil)
	in := candidatesOf(1, 2)
	out := c.Rerank(t.Context(), "query", in, 5)
	if len(out) != 2 {
		t.Errorf("len(out) = %d, want 2 (no rerank needed below limit)", len(out))
	}
}
