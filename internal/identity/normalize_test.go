package identity

import (
	"errors"
	"testing"
)

func TestNormalize_EquivalentInputsShareKey(t *testing.T) {
	want := "1976|phantom regiment|spirit of 76"
	inputs := []struct {
		title string
		corps string
	}{
		{"Spirit of '76", "Phantom Regiment"},
		{"spirit of 76", "phantom regiment"},
		{"  SPIRIT   OF   ’76 ", "Phantom  Regiment"},
		{"Spirit of ’76", "PHANTOM\tREGIMENT"},
		{"Spirit-of-'76", "Phantom Regiment!"},
		{"Ｓｐｉｒｉｔ of '76", "Phantom Regiment"},
	}

	for _, in := range inputs {
		got, err := Normalize(in.title, in.corps, 1976)
		if err != nil {
			t.Fatalf("Normalize(%q, %q) failed: %v", in.title, in.corps, err)
		}
		if got != want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", in.title, in.corps, got, want)
		}
	}
}

func TestNormalize_Diacritics(t *testing.T) {
	a, err := Normalize("Café Olé", "Crossmen", 2005)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := Normalize("cafe ole", "CROSSMEN", 2005)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a != b {
		t.Errorf("expected diacritics to fold: %q != %q", a, b)
	}
}

func TestNormalize_Ampersand(t *testing.T) {
	a, _ := Normalize("Rock & Roll", "Boston Crusaders", 1999)
	b, _ := Normalize("Rock and Roll", "Boston Crusaders", 1999)
	if a != b {
		t.Errorf("expected & to match 'and': %q != %q", a, b)
	}
}

func TestNormalize_DistinctShows(t *testing.T) {
	base, _ := Normalize("Spirit of '76", "Phantom Regiment", 1976)

	other := []struct {
		title string
		corps string
		year  int
	}{
		{"Spirit of '76", "Phantom Regiment", 1977},
		{"Spirit of '77", "Phantom Regiment", 1976},
		{"Spirit of '76", "Blue Devils", 1976},
		{"Spirit of 7 6", "Phantom Regiment", 1976},
	}
	for _, o := range other {
		got, err := Normalize(o.title, o.corps, o.year)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got == base {
			t.Errorf("expected %q/%q/%d to differ from base key", o.title, o.corps, o.year)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		title string
		corps string
		year  int
	}{
		{"empty title", "", "Blue Devils", 2014},
		{"blank title", "   ", "Blue Devils", 2014},
		{"punctuation title", "?!'", "Blue Devils", 2014},
		{"empty corps", "Felliniesque", "", 2014},
		{"year too low", "Felliniesque", "Blue Devils", 1899},
		{"year too high", "Felliniesque", "Blue Devils", 2101},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.title, tt.corps, tt.year)
			if !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("expected ErrInvalidIdentity, got %v", err)
			}
		})
	}
}

func TestNormalize_YearBounds(t *testing.T) {
	for _, year := range []int{MinYear, MaxYear} {
		if _, err := Normalize("Show", "Corps", year); err != nil {
			t.Errorf("year %d should be valid: %v", year, err)
		}
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	first, _ := Normalize("Ænima Œuvre", "Santa Clara Vanguard", 2018)
	for i := 0; i < 100; i++ {
		got, _ := Normalize("Ænima Œuvre", "Santa Clara Vanguard", 2018)
		if got != first {
			t.Fatalf("non-deterministic key: %q != %q", got, first)
		}
	}
	if first != "2018|santa clara vanguard|aenima oeuvre" {
		t.Errorf("unexpected key %q", first)
	}
}

func TestDisplayText(t *testing.T) {
	if got := DisplayText("  Spirit   of '76\n"); got != "Spirit of '76" {
		t.Errorf("DisplayText = %q", got)
	}
}
