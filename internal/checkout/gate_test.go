package checkout

import "testing"

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		total     int64
		remaining int64
		want      Decision
	}{
		{name: "covered", total: 60, remaining: 100, want: Decision{CanProceed: true}},
		{name: "exact", total: 100, remaining: 100, want: Decision{CanProceed: true}},
		{name: "short", total: 150, remaining: 100, want: Decision{Shortfall: 50}},
		{name: "nothing left", total: 1, remaining: 0, want: Decision{Shortfall: 1}},
		{name: "empty total", total: 0, remaining: 0, want: Decision{CanProceed: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.total, tc.remaining); got != tc.want {
				t.Fatalf("Evaluate(%d, %d) = %+v, want %+v", tc.total, tc.remaining, got, tc.want)
			}
		})
	}
}

func TestEvaluateProperties(t *testing.T) {
	for total := int64(0); total <= 60; total += 3 {
		for remaining := int64(0); remaining <= 60; remaining += 4 {
			d := Evaluate(total, remaining)
			if d.CanProceed != (remaining >= total) {
				t.Fatalf("CanProceed wrong for total=%d remaining=%d", total, remaining)
			}
			want := total - remaining
			if want < 0 {
				want = 0
			}
			if d.Shortfall != want {
				t.Fatalf("Shortfall = %d, want %d (total=%d remaining=%d)", d.Shortfall, want, total, remaining)
			}
			if d.CanProceed && d.Shortfall != 0 {
				t.Fatalf("admitted decision with shortfall %d", d.Shortfall)
			}
		}
	}
}
