// Package entityresolve ranks candidate entity names against an extracted
// mention using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity.
//
// It backstops the cosine-similarity pass performed against
// memory.GraphProvider.FindSimilarEntities (spec §4.5): cosine similarity on
// name embeddings catches semantic near-duplicates
// ("the migration project" vs "migration effort"), phonetic matching catches
// misspellings and transliteration drift ("Eldrinax" vs "Elder Nacks") that
// an embedding model may not place close together.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the mention and for each known entity name. If any code
//     from the mention overlaps with any code from an entity name, the
//     entity becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the entity with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all entity names using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word entity names (e.g., "Blacksmiths Guild") are supported: the
// matcher computes phonetic codes per word and considers the best pairwise
// score across all word pairs when ranking candidates.
package entityresolve

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entity name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks candidate entity names against an extracted mention. All
// methods are safe for concurrent use — the Matcher is read-only after
// construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options. Default
// thresholds are 0.70 for phonetic matches and 0.85 for fuzzy fallback
// matches.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match attempts to find the entity name from candidateNames most
// phonetically similar to mention.
//
// mention may be a single word or a space-separated phrase. When mention
// contains multiple tokens, the matcher checks whether any token
// phonetically aligns with any token in a multi-word candidate, then ranks
// by Jaro-Winkler on the full strings.
//
// When matched is false, corrected equals mention unchanged and confidence
// is 0 — callers treat this as "no phonetic match, fall back to creating a
// new entity or relying on the cosine pass alone."
func (m *Matcher) Match(mention string, candidateNames []string) (corrected string, confidence float64, matched bool) {
	if len(candidateNames) == 0 || strings.TrimSpace(mention) == "" {
		return mention, 0, false
	}

	mentionLower := strings.ToLower(strings.TrimSpace(mention))
	mentionTokens := strings.Fields(mentionLower)

	inputCodes := codesForTokens(mentionTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, name := range candidateNames {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		nameCodes := codesForTokens(nameTokens)
		phoneticMatch := codesOverlap(inputCodes, nameCodes)

		jwScore := bestJWScore(mentionTokens, nameTokens, mentionLower, nameLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{name: name, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{name: name, score: jwScore, phonetic: false}
			}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return mention, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// mention and a candidate name using three strategies:
//
//  1. Full-string comparison (e.g., "elder nacks" vs "eldrinax").
//  2. Space-stripped comparison (e.g., "eldernacks" vs "eldrinax").
//  3. Best pairwise word comparison — the maximum JW score between any
//     mention token and any candidate token.
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(mentionTokens, nameTokens []string, mentionFull, nameFull string) float64 {
	score := matchr.JaroWinkler(mentionFull, nameFull, false)

	if len(mentionTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(mentionTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, it := range mentionTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
