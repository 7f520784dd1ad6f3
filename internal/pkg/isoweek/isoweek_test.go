package isoweek

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestID(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{date(2025, time.January, 1), "2025-W01"},
		{date(2024, time.December, 30), "2025-W01"},
		{date(2021, time.January, 1), "2020-W53"},
		{date(2021, time.January, 3), "2020-W53"},
		{date(2021, time.January, 4), "2021-W01"},
		{date(2025, time.March, 5), "2025-W10"},
		{date(2026, time.December, 31), "2026-W53"},
	}
	for _, c := range cases {
		if got := ID(c.in); got != c.want {
			t.Fatalf("ID(%s)=%s, want %s", c.in.Format("2006-01-02"), got, c.want)
		}
	}
}

func TestBetweenSameDay(t *testing.T) {
	d := date(2025, time.March, 5)
	got := Between(d, d)
	if len(got) != 1 || got[0] != "2025-W10" {
		t.Fatalf("got=%v, want [2025-W10]", got)
	}
}

func TestBetweenCountAndOrder(t *testing.T) {
	// 两端都取周一，条目数 = floor((end-start)/7)+1
	start := date(2024, time.December, 2)
	end := date(2025, time.February, 3)
	got := Between(start, end)

	wantLen := int(end.Sub(start).Hours()/24)/7 + 1
	if len(got) != wantLen {
		t.Fatalf("len=%d, want %d (%v)", len(got), wantLen, got)
	}
	if got[0] != ID(start) || got[len(got)-1] != ID(end) {
		t.Fatalf("first/last = %s/%s, want %s/%s", got[0], got[len(got)-1], ID(start), ID(end))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("not strictly increasing at %d: %v", i, got)
		}
	}
}

func TestBetweenCoversPartialWeeks(t *testing.T) {
	// 周日 → 下周一：跨两个 ISO 周
	got := Between(date(2025, time.March, 2), date(2025, time.March, 3))
	if len(got) != 2 || got[0] != "2025-W09" || got[1] != "2025-W10" {
		t.Fatalf("got=%v", got)
	}
}

func TestBetweenReversed(t *testing.T) {
	if got := Between(date(2025, time.March, 10), date(2025, time.March, 1)); got != nil {
		t.Fatalf("got=%v, want nil", got)
	}
}

func TestStartAndRange(t *testing.T) {
	start, end, err := Range("2025-W01")
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	if !start.Equal(time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start=%s", start)
	}
	if !end.Equal(start.AddDate(0, 0, 7)) {
		t.Fatalf("end=%s", end)
	}

	s53, err := Start("2020-W53")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if ID(s53) != "2020-W53" {
		t.Fatalf("round trip = %s", ID(s53))
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "2025", "2025-W1", "2025-W00", "2025-W53", "25-W10", "2025-10"} {
		if Valid(in) {
			t.Fatalf("Valid(%q)=true", in)
		}
	}
	if !Valid("2020-W53") {
		t.Fatal("2020-W53 should be valid")
	}
}
