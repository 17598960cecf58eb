package topic

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		topic   string
		want    bool
	}{
		{"exact", "foo/bar/baz", "foo/bar/baz", true},
		{"exact mismatch", "foo/bar/baz", "foo/bar/qux", false},
		{"single wildcard", "foo/+/baz", "foo/bar/baz", true},
		{"single wildcard wrong depth", "foo/+/baz", "foo/bar/bar/baz", false},
		{"tail wildcard matches remainder", "/+/temperature/#", "/dev_1/temperature/front", true},
		{"tail wildcard matches empty remainder", "/+/temperature/#", "/dev_1/temperature/", true},
		{"tail wildcard, missing leading segment", "/+/temperature/#", "/temperature/front", false},
		{"tail wildcard, mismatched literal", "/+/temperature/#", "/dev_1/humidity/front", false},
		{"tail alone matches everything under prefix", "a/#", "a", true},
		{"tail alone matches one segment", "a/#", "a/b", true},
		{"both empty strings", "", "", false},
		{"empty pattern", "", "foo", false},
		{"empty topic", "foo", "", false},
		{"pattern longer than topic", "foo/bar", "foo", false},
		{"topic longer than pattern", "foo", "foo/bar", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Match(c.pattern, c.topic); got != c.want {
				t.Errorf("Match(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name           string
		path           string
		allowWildcards bool
		wantErr        bool
	}{
		{"concrete ok", "foo/bar/baz", false, false},
		{"concrete rejects plus", "foo/+/baz", false, true},
		{"concrete rejects hash", "foo/bar/#", false, true},
		{"pattern allows plus", "foo/+/baz", true, false},
		{"pattern allows trailing hash", "foo/bar/#", true, false},
		{"pattern rejects mid hash", "foo/#/baz", true, true},
		{"empty segment rejected", "foo//baz", true, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := Validate(c.path, c.allowWildcards)
			if (err != nil) != c.wantErr {
				t.Errorf("Validate(%q, %v) error = %v, wantErr %v", c.path, c.allowWildcards, err, c.wantErr)
			}
		})
	}
}

func TestHasWildcard(t *testing.T) {
	if HasWildcard("foo/bar/baz") {
		t.Error("expected no wildcard")
	}
	if !HasWildcard("foo/+/baz") {
		t.Error("expected wildcard")
	}
	if !HasWildcard("foo/bar/#") {
		t.Error("expected wildcard")
	}
}
