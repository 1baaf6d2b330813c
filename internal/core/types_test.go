package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testBar(openTime time.Time, o, h, l, c string) Bar {
	return Bar{
		OpenTime:  openTime,
		CloseTime: openTime.Add(5 * time.Minute),
		Open:      dec(o),
		High:      dec(h),
		Low:       dec(l),
		Close:     dec(c),
		Volume:    dec("100"),
	}
}

func TestBar_IsValid(t *testing.T) {
	now := time.Now()
	if !testBar(now, "100", "105", "99", "102").IsValid() {
		t.Error("well-formed bar should be valid")
	}
	if testBar(now, "100", "99", "105", "102").IsValid() {
		t.Error("high below low should be invalid")
	}
	if testBar(now, "0", "105", "99", "102").IsValid() {
		t.Error("zero price should be invalid")
	}
}

func TestValidateSeries(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	good := []Bar{
		testBar(base, "100", "101", "99", "100"),
		testBar(base.Add(5*time.Minute), "100", "101", "99", "100"),
	}
	if err := ValidateSeries(good); err != nil {
		t.Fatalf("valid series rejected: %v", err)
	}

	dup := []Bar{good[0], good[0]}
	if err := ValidateSeries(dup); !errors.Is(err, ErrBadSeries) {
		t.Errorf("duplicate timestamps should fail with ErrBadSeries, got %v", err)
	}
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("5m")
	if err != nil {
		t.Fatalf("ParseInterval(5m): %v", err)
	}
	if iv.BarsPerDay != 288 {
		t.Errorf("5m bars per day = %d, want 288", iv.BarsPerDay)
	}
	if iv.BarsPerYear != 288*365 {
		t.Errorf("5m bars per year = %d, want %d", iv.BarsPerYear, 288*365)
	}

	if _, err := ParseInterval("2h"); !errors.Is(err, ErrBadInterval) {
		t.Errorf("unknown interval should fail with ErrBadInterval, got %v", err)
	}
}

func TestInterval_BarsHeld(t *testing.T) {
	iv, _ := ParseInterval("1h")
	entry := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := iv.BarsHeld(entry, entry.Add(3*time.Hour)); got != 3 {
		t.Errorf("BarsHeld = %d, want 3", got)
	}
	// Live evaluation may call with gaps: duration, not index math.
	if got := iv.BarsHeld(entry, entry.Add(90*time.Minute)); got != 1 {
		t.Errorf("BarsHeld = %d, want 1", got)
	}
	if got := iv.BarsHeld(entry, entry); got != 0 {
		t.Errorf("BarsHeld = %d, want 0", got)
	}
}

func TestDecision_String(t *testing.T) {
	cases := map[Decision]string{
		Hold:       "HOLD",
		EnterLong:  "LONG_ENTRY",
		EnterShort: "SHORT_ENTRY",
		ExitLong:   "LONG_EXIT",
		ExitShort:  "SHORT_EXIT",
	}
	for d, want := range cases {
		if d.String() != want {
			t.Errorf("Decision(%d).String() = %s, want %s", d, d.String(), want)
		}
	}
	if !EnterShort.IsEntry() || EnterShort.IsExit() {
		t.Error("EnterShort classification wrong")
	}
}

func TestRound_HalfUp(t *testing.T) {
	// 97.999999995 rounds up at price scale.
	if got := RoundPrice(dec("97.999999995")).String(); got != "98" {
		t.Errorf("RoundPrice = %s, want 98", got)
	}
	if got := DivReturn(dec("1"), dec("3")).String(); got != "0.333333" {
		t.Errorf("DivReturn = %s, want 0.333333", got)
	}
}
