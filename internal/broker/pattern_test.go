package broker

import "testing"

func TestCompilePatternRegex(t *testing.T) {
	cases := []struct {
		pattern string
		regex   string
	}{
		{"*", "(^.+$)"},
		{"+", "(^[^/]+$)"},
		{"livingroom", "(^livingroom$)"},
		{"livingroom/+", "(^livingroom/[^/]+$)"},
		{"livingroom/*", "(^livingroom/.+$)"},
		{"+/temperature,+/humidity", "(^[^/]+/temperature$)|(^[^/]+/humidity$)"},
		{".*", `(^\.\*$)`},
	}

	for _, c := range cases {
		p, err := CompilePattern(c.pattern)
		if err != nil {
			t.Fatalf("CompilePattern(%q): %v", c.pattern, err)
		}
		if got := p.regex.String(); got != c.regex {
			t.Errorf("CompilePattern(%q).regex = %q, want %q", c.pattern, got, c.regex)
		}
	}
}

func TestCompilePatternMatches(t *testing.T) {
	p, err := CompilePattern("livingroom")
	if err != nil {
		t.Fatal(err)
	}
	if !p.Matches("livingroom") {
		t.Error("expected literal pattern to match itself")
	}
	if p.Matches("foo/livingroom") {
		t.Error("literal pattern must not match a longer path")
	}

	dot, err := CompilePattern(".*")
	if err != nil {
		t.Fatal(err)
	}
	if dot.Matches("foo") {
		t.Error(`".*" must be literal, not a wildcard`)
	}
	if !dot.Matches(".*") {
		t.Error(`".*" must match the literal name ".*"`)
	}

	multi, err := CompilePattern("device/lamp/+,room/*")
	if err != nil {
		t.Fatal(err)
	}
	if !multi.Matches("device/lamp/foo") {
		t.Error("expected device/lamp/+ to match device/lamp/foo")
	}
	if !multi.Matches("room/bar") {
		t.Error("expected room/* to match room/bar")
	}
	if multi.Matches("scene/livingroom/test") {
		t.Error("pattern must not match an unrelated path")
	}
}

func TestCompilePatternSystem(t *testing.T) {
	star, err := CompilePattern("*")
	if err != nil {
		t.Fatal(err)
	}
	if star.Matches("$system") {
		t.Error(`"*" must not match "$system"`)
	}

	both, err := CompilePattern("*,$system")
	if err != nil {
		t.Fatal(err)
	}
	if !both.Matches("$system") {
		t.Error(`"*,$system" must match "$system"`)
	}
	if !both.Matches("anything") {
		t.Error(`"*,$system" must still match ordinary names via "*"`)
	}
}
