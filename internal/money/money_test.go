package money

import "testing"

func TestToCreditsRoundHalfEven(t *testing.T) {
	cases := []struct {
		major string
		want  int64
	}{
		{"5.00", 5000},
		{"0.05", 50},
		{"0.001", 1},
		{"0", 0},
		{"0.0005", 0},  // exact half of a credit (0.5) rounds to even (0)
		{"0.0015", 2},  // exact half (1.5) rounds to even (2)
		{"0.0025", 2},  // exact half (2.5) rounds to even (2)
	}
	for _, tc := range cases {
		c, err := FromMajor(tc.major)
		if err != nil {
			t.Fatalf("FromMajor(%q): %v", tc.major, err)
		}
		got, err := c.ToCredits()
		if err != nil {
			t.Fatalf("ToCredits(%q): %v", tc.major, err)
		}
		if got != tc.want {
			t.Errorf("ToCredits(%q) = %d, want %d", tc.major, got, tc.want)
		}
	}
}

func TestToCreditsNegativeRejected(t *testing.T) {
	c, err := FromMajor("-0.01")
	if err != nil {
		t.Fatalf("FromMajor: %v", err)
	}
	if _, err := c.ToCredits(); err != ErrNegativeAmount {
		t.Fatalf("want ErrNegativeAmount, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, major := range []string{"0", "0.001", "0.05", "5", "100"} {
		c, err := FromMajor(major)
		if err != nil {
			t.Fatalf("FromMajor(%q): %v", major, err)
		}
		credits, err := c.ToCredits()
		if err != nil {
			t.Fatalf("ToCredits(%q): %v", major, err)
		}
		back, err := CreditsToCurrency(credits)
		if err != nil {
			t.Fatalf("CreditsToCurrency: %v", err)
		}
		if back.String() != c.String() {
			t.Errorf("round trip %q -> %d -> %q, want %q", major, credits, back.String(), c.String())
		}
	}
}

func TestFractionalCreditsToCurrency(t *testing.T) {
	// reliapi: 0.1 credit per request, 1 unit -> $0.0001
	got, err := FractionalCreditsToCurrency(1, 10, 1)
	if err != nil {
		t.Fatalf("FractionalCreditsToCurrency: %v", err)
	}
	want, _ := FromMajor("0.0001")
	if got.Atomic != want.Atomic {
		t.Errorf("got %s, want %s", got.String(), want.String())
	}
}

func TestFormatCredits(t *testing.T) {
	cases := map[int64]string{
		1:     "1 credit",
		50:    "50 credits",
		9999:  "9,999 credits",
		10000: "10,000 credits",
	}
	for credits, want := range cases {
		if got := FormatCredits(credits); got != want {
			t.Errorf("FormatCredits(%d) = %q, want %q", credits, got, want)
		}
	}
}

func TestAddSubOverflow(t *testing.T) {
	a := Currency{Atomic: 1<<62}
	if _, err := a.Add(Currency{Atomic: 1 << 62}); err != ErrOverflow {
		t.Fatalf("want ErrOverflow, got %v", err)
	}
}
