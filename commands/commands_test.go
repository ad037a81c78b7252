package commands

import (
	"strings"
	"testing"
)

func TestParseDice(t *testing.T) {
	tests := []struct {
		input string
		want  DiceRoll
		ok    bool
	}{
		{"!2d6", DiceRoll{2, 6}, true},
		{"!1d20", DiceRoll{1, 20}, true},
		{"!2D6", DiceRoll{2, 6}, true},
		{"!101d6", DiceRoll{101, 6}, true}, // parses; limit checked separately
		{"2d6", DiceRoll{}, false},
		{"!d6", DiceRoll{}, false},
		{"!2d", DiceRoll{}, false},
		{"!ver", DiceRoll{}, false},
		{"!2d6 extra", DiceRoll{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDice(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseDice(%q) = %+v, %v; want %+v, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOverLimit(t *testing.T) {
	tests := []struct {
		roll DiceRoll
		want bool
	}{
		{DiceRoll{100, 1000}, false},
		{DiceRoll{101, 6}, true},
		{DiceRoll{2, 1001}, true},
		{DiceRoll{2, 6}, false},
		{DiceRoll{1, 1}, false},
		{DiceRoll{1, 0}, true}, // Roll would panic on zero sides
		{DiceRoll{0, 6}, true},
	}
	for _, tt := range tests {
		if got := tt.roll.OverLimit(); got != tt.want {
			t.Errorf("%+v.OverLimit() = %v, want %v", tt.roll, got, tt.want)
		}
	}
}

func TestRollBoundsAndCount(t *testing.T) {
	d := DiceRoll{Count: 2, Sides: 6}
	for i := 0; i < 100; i++ {
		rolls := d.Roll()
		if len(rolls) != 2 {
			t.Fatalf("got %d rolls, want 2", len(rolls))
		}
		for _, r := range rolls {
			if r < 1 || r > 6 {
				t.Fatalf("roll %d out of [1,6]", r)
			}
		}
	}
}

func TestFormatRoll(t *testing.T) {
	got := FormatRoll(DiceRoll{2, 6}, []int{3, 5})
	if !strings.Contains(got, "2d6") {
		t.Errorf("missing dice notation in %q", got)
	}
	if !strings.Contains(got, "[3, 5]") {
		t.Errorf("missing individual rolls in %q", got)
	}
	if !strings.Contains(got, "8") {
		t.Errorf("missing total in %q", got)
	}
}

func TestParsePrice(t *testing.T) {
	q, ok := ParsePrice(`!price "iron ore" in Eastport`)
	if !ok {
		t.Fatal("expected price query to parse")
	}
	if q.Item != "iron ore" || q.City != "Eastport" {
		t.Errorf("got %+v", q)
	}

	for _, bad := range []string{
		"!price iron ore in Eastport",
		`!price "iron ore"`,
		`price "iron ore" in Eastport`,
		"!2d6",
	} {
		if _, ok := ParsePrice(bad); ok {
			t.Errorf("ParsePrice(%q) unexpectedly matched", bad)
		}
	}
}
