package entityresolve

import "testing"

func TestMatch_EmptyCandidates(t *testing.T) {
	t.Parallel()

	m := New()
	corrected, confidence, matched := m.Match("Eldrinax", nil)
	if matched {
		t.Fatal("matched = true, want false for empty candidate list")
	}
	if corrected != "Eldrinax" || confidence != 0 {
		t.Errorf("corrected/confidence = %q/%v, want unchanged mention / 0", corrected, confidence)
	}
}

func TestMatch_BlankMention(t *testing.T) {
	t.Parallel()

	m := New()
	_, _, matched := m.Match("   ", []string{"Eldrinax"})
	if matched {
		t.Fatal("matched = true, want false for blank mention")
	}
}

func TestMatch_PhoneticMisspelling(t *testing.T) {
	t.Parallel()

	m := New()
	corrected, _, matched := m.Match("Eldernax", []string{"Eldrinax", "Grimjaw", "The Archivist"})
	if !matched {
		t.Fatal("expected a phonetic match")
	}
	if corrected != "Eldrinax" {
		t.Errorf("corrected = %q, want Eldrinax", corrected)
	}
}

func TestMatch_MultiWordCandidate(t *testing.T) {
	t.Parallel()

	m := New()
	corrected, _, matched := m.Match("Blacksmith Guild", []string{"Blacksmiths Guild", "Thieves Den"})
	if !matched {
		t.Fatal("expected a match against the multi-word candidate")
	}
	if corrected != "Blacksmiths Guild" {
		t.Errorf("corrected = %q, want Blacksmiths Guild", corrected)
	}
}

func TestMatch_NoPlausibleCandidate(t *testing.T) {
	t.Parallel()

	m := New()
	_, _, matched := m.Match("Completely Unrelated Name", []string{"Eldrinax", "Grimjaw"})
	if matched {
		t.Fatal("matched = true, want false when nothing is phonetically or fuzzily close")
	}
}

func TestMatch_ExactNameMatches(t *testing.T) {
	t.Parallel()

	m := New()
	corrected, confidence, matched := m.Match("Grimjaw", []string{"Eldrinax", "Grimjaw"})
	if !matched {
		t.Fatal("expected an exact match")
	}
	if corrected != "Grimjaw" {
		t.Errorf("corrected = %q, want Grimjaw", corrected)
	}
	if confidence < 0.99 {
		t.Errorf("confidence = %v, want close to 1.0 for an exact match", confidence)
	}
}

func TestMatch_CustomThresholds(t *testing.T) {
	t.Parallel()

	// A very high phonetic threshold should reject matches the default
	// configuration would have accepted.
	strict := New(WithPhoneticThreshold(0.999), WithFuzzyThreshold(0.999))
	_, _, matched := strict.Match("Eldernax", []string{"Eldrinax"})
	if matched {
		t.Fatal("matched = true, want false with near-1.0 thresholds")
	}
}

func TestMatch_BlankCandidateNamesAreSkipped(t *testing.T) {
	t.Parallel()

	m := New()
	corrected, _, matched := m.Match("Grimjaw", []string{"", "   ", "Grimjaw"})
	if !matched {
		t.Fatal("expected a match, ignoring the blank candidates")
	}
	if corrected != "Grimjaw" {
		t.Errorf("corrected = %q, want Grimjaw", corrected)
	}
}
