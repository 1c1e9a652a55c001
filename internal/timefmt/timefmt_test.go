package timefmt

import "testing"

func TestMMSS(t *testing.T) {
	tests := map[float64]string{
		0:      "0:00",
		5.9:    "0:05",
		65:     "1:05",
		3725.2: "62:05",
		-3:     "0:00",
	}
	for in, want := range tests {
		if got := MMSS(in); got != want {
			t.Fatalf("MMSS(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestHMS(t *testing.T) {
	if got := HMS(3725.25); got != "1:02:05.250" {
		t.Fatalf("HMS = %q", got)
	}
}

func TestSeconds(t *testing.T) {
	tests := map[string]float64{
		"1:02:05.5":       3725.5,
		"3:20":            200,
		"42":              42,
		"":                0,
		"NOT_IMPLEMENTED": 0,
		"00:00:01.000":    1,
	}
	for in, want := range tests {
		if got := Seconds(in); got != want {
			t.Fatalf("Seconds(%q) = %v, want %v", in, got, want)
		}
	}
}
