package lexicon_test

import (
	"testing"

	"github.com/trunkline/trunkline/internal/lexicon"
)

func TestCorrector_CorrectsMisheardTerm(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"margherita", "bruschetta"})

	got := c.Correct("I'll take the margarita please")
	want := "I'll take the margherita please"
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
}

func TestCorrector_MultiWordTerm(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"Palazzo Verde", "margherita"})

	got := c.Correct("a table at palasso verdi for four")
	want := "a table at Palazzo Verde for four"
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
}

func TestCorrector_WindowNeverEatsNeighbours(t *testing.T) {
	t.Parallel()

	// "margarita pizzas" must not be consumed whole by the one-word term,
	// and "book" must not be dragged into the two-word term by the exact
	// match on "maurice".
	c := lexicon.New([]string{"margherita", "Chez Maurice"})

	got := c.Correct("two margarita pizzas")
	if want := "two margherita pizzas"; got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}

	got = c.Correct("book maurice for two")
	if want := "book Chez Maurice for two"; got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
}

func TestCorrector_CanonicalizesCasingSilently(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"Chez Maurice"})

	got, corrections := c.Apply("dinner at chez maurice")
	if want := "dinner at Chez Maurice"; got != want {
		t.Errorf("Apply() text = %q, want %q", got, want)
	}
	if len(corrections) != 0 {
		t.Errorf("Apply() corrections = %+v, want none for a casing-only rewrite", corrections)
	}
}

func TestCorrector_PreservesTrailingPunctuation(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"bruschetta"})

	got := c.Correct("I'd like the brusketta, and water.")
	want := "I'd like the bruschetta, and water."
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
}

func TestCorrector_PhraseDoesNotSpanComma(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"Chez Maurice"})

	// The comma splits the would-be phrase window; only the exact token
	// after it is canonicalized.
	got := c.Correct("shay, maurice")
	if want := "shay, Chez Maurice"; got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}
}

func TestCorrector_ApplyReportsCorrections(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"bruschetta"})

	got, corrections := c.Apply("one brusketta")
	if want := "one bruschetta"; got != want {
		t.Fatalf("Apply() text = %q, want %q", got, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("Apply() corrections = %d, want 1", len(corrections))
	}
	cr := corrections[0]
	if cr.Original != "brusketta" || cr.Corrected != "bruschetta" {
		t.Errorf("correction = %q -> %q, want brusketta -> bruschetta", cr.Original, cr.Corrected)
	}
	if cr.Confidence < 0.85 {
		t.Errorf("Confidence = %f, want >= 0.85", cr.Confidence)
	}
}

func TestCorrector_MinTokenLengthGate(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"margherita"}, lexicon.WithMinTokenLength(10))

	got := c.Correct("the margarita pizza")
	if want := "the margarita pizza"; got != want {
		t.Errorf("Correct() = %q, want input unchanged below token length gate", got)
	}
}

func TestCorrector_LeavesOrdinaryTextAlone(t *testing.T) {
	t.Parallel()

	c := lexicon.New([]string{"margherita", "bruschetta", "Palazzo Verde"})

	for _, text := range []string{
		"hello there friend",
		"what time do you close on Sundays",
		"",
	} {
		if got := c.Correct(text); got != text {
			t.Errorf("Correct(%q) = %q, want unchanged", text, got)
		}
	}
}

func TestCorrector_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	c := lexicon.New(nil)
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if got := c.Correct("anything at all"); got != "anything at all" {
		t.Errorf("Correct() = %q, want unchanged", got)
	}

	c = lexicon.New([]string{"  ", ""})
	if c.Len() != 0 {
		t.Errorf("Len() with blank entries = %d, want 0", c.Len())
	}
}
