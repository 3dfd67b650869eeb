package safety

import "testing"

func TestCheck(t *testing.T) {
	max := Ceilings{MaxRounds: 10, MaxModelCalls: 8, MaxConsecutiveErrors: 2}

	tests := []struct {
		name     string
		counters Counters
		want     string // violated limit, "" for none
	}{
		{"all zero", Counters{}, ""},
		{"under every ceiling", Counters{Rounds: 9, ModelCalls: 7, ConsecutiveErrors: 1}, ""},
		{"rounds at ceiling", Counters{Rounds: 10}, "round"},
		{"rounds over ceiling", Counters{Rounds: 11}, "round"},
		{"model calls at ceiling", Counters{ModelCalls: 8}, "model call"},
		{"consecutive errors at ceiling", Counters{ConsecutiveErrors: 2}, "consecutive error"},
		{"rounds win over other limits", Counters{Rounds: 10, ModelCalls: 8, ConsecutiveErrors: 2}, "round"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(tt.counters, max)
			switch {
			case tt.want == "" && v != nil:
				t.Errorf("expected no violation, got %v", v)
			case tt.want != "" && v == nil:
				t.Errorf("expected %q violation, got none", tt.want)
			case tt.want != "" && v.Limit != tt.want:
				t.Errorf("expected %q violation, got %q", tt.want, v.Limit)
			}
		})
	}
}

func TestViolationString(t *testing.T) {
	v := &Violation{Limit: "round", Current: 10, Ceiling: 10}
	want := "round limit reached (10/10)"
	if got := v.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
