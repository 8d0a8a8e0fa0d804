package types

import "testing"

func TestPersona_FallbackLine(t *testing.T) {
	t.Parallel()

	p := Persona{
		ID:            "peter",
		DisplayName:   "Peter",
		FallbackLines: []string{"Heh, you know what grinds my gears?", "Roadhouse."},
	}
	first := p.FallbackLine()
	if first != "Heh, you know what grinds my gears?" {
		t.Fatalf("expected first configured line, got %q", first)
	}
	// 同一人格多次调用必须返回同一条台词
	if p.FallbackLine() != first {
		t.Fatalf("fallback must be deterministic")
	}

	empty := Persona{ID: "brian", DisplayName: "Brian"}
	if empty.FallbackLine() == "" {
		t.Fatalf("fallback must never be empty")
	}
}

func TestPersona_KnownNames(t *testing.T) {
	t.Parallel()

	p := Persona{ID: "stewie", Name: "stewie", DisplayName: "Stewie Griffin"}
	names := p.KnownNames()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
	if names[0] != "stewie" || names[1] != "stewie griffin" {
		t.Fatalf("names must be lowercased: %v", names)
	}

	same := Persona{ID: "x", Name: "Meg", DisplayName: "meg"}
	if got := same.KnownNames(); len(got) != 1 {
		t.Fatalf("case-insensitive duplicate names collapse: %v", got)
	}
}
