package textutil

import "testing"

func TestTruncate(t *testing.T) {
	t.Run("keeps short values", func(t *testing.T) {
		if got := Truncate("  5 Main St ", 100); got != "5 Main St" {
			t.Fatalf("expected trimmed value, got %q", got)
		}
	})

	t.Run("cuts on rune boundaries", func(t *testing.T) {
		got := Truncate("Երևան քաղաք", 5)
		if got != "Երևան" {
			t.Fatalf("expected %q got %q", "Երևան", got)
		}
	})

	t.Run("non-positive max disables truncation", func(t *testing.T) {
		if got := Truncate("abcdef", 0); got != "abcdef" {
			t.Fatalf("expected unchanged value, got %q", got)
		}
	})
}

func TestJoinNonBlank(t *testing.T) {
	if got := JoinNonBlank(" ", " 5 Main St", "", "  ", "Apt 2 "); got != "5 Main St Apt 2" {
		t.Fatalf("unexpected join result %q", got)
	}
	if got := JoinNonBlank(" "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
