package featurize

import (
	"reflect"
	"slices"
	"testing"
)

func TestAffixes(t *testing.T) {
	tests := []struct {
		s        string
		max      int
		prefixes []string
		suffixes []string
	}{
		{"dogs", 3, []string{"d", "do", "dog"}, []string{"s", "gs", "ogs"}},
		{"an", 3, []string{"a", "an"}, []string{"n", "an"}},
		{"été", 2, []string{"é", "ét"}, []string{"é", "té"}},
		{"", 3, nil, nil},
	}
	for _, tt := range tests {
		p, s := Affixes(tt.s, tt.max)
		if !reflect.DeepEqual(p, tt.prefixes) || !reflect.DeepEqual(s, tt.suffixes) {
			t.Errorf("Affixes(%q, %d) = %v, %v", tt.s, tt.max, p, s)
		}
	}
}

func TestShape(t *testing.T) {
	tests := map[string]string{
		"McDonald2": "AaAa0",
		"dog":       "a",
		"USA":       "A",
		"1,000":     "0,0",
		"":          "",
	}
	for in, want := range tests {
		if got := Shape(in); got != want {
			t.Errorf("Shape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNumberPattern(t *testing.T) {
	tests := []struct {
		text  string
		ratio float64
		want  string
	}{
		{"123", 0.3, "XXX"},
		{"abc", 0.3, ""},
		{"a1b2", 0.3, "CXCX"},
		{"12-34", 0.5, "XX-XX"},
		{"", 0.3, ""},
	}
	for _, tt := range tests {
		if got := NumberPattern(tt.text, tt.ratio); got != tt.want {
			t.Errorf("NumberPattern(%q, %v) = %q, want %q", tt.text, tt.ratio, got, tt.want)
		}
	}
}

func TestToken(t *testing.T) {
	words := []string{"The", "dog"}
	got := Token(words, 0, DefaultOptions())
	want := []string{
		"w=the", "shape=Aa", "bias",
		"prefix=t", "prefix=th", "prefix=the",
		"suffix=e", "suffix=he", "suffix=the",
		"w[-1]=<s>", "w[+1]=dog",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Token = %v, want %v", got, want)
	}

	seq := Sequence(words, Options{Window: 2})
	if len(seq) != 2 {
		t.Fatalf("got %d tokens", len(seq))
	}
	for _, f := range []string{"w=dog", "w[-1]=the", "w[-2]=<s>", "w[+1]=</s>", "w[+2]=</s>"} {
		if !slices.Contains(seq[1], f) {
			t.Errorf("missing %q in %v", f, seq[1])
		}
	}
}
