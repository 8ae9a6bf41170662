package pricing

import "testing"

func TestCost_InputVsOutput(t *testing.T) {
	in := Cost("deepseek-chat", 1_000_000, false)
	out := Cost("deepseek-chat", 1_000_000, true)
	if in != 2.00 {
		t.Fatalf("expected input cost 2.00, got %f", in)
	}
	if out != 8.00 {
		t.Fatalf("expected output cost 8.00, got %f", out)
	}
}

func TestLookup_UnknownModelFallsBack(t *testing.T) {
	p, known := Lookup("some-future-model")
	if known {
		t.Fatalf("expected unknown model")
	}
	if p.InputPer1M <= 0 || p.OutputPer1M <= 0 {
		t.Fatalf("fallback pricing must be non-zero: %+v", p)
	}
}

func TestEstimateCost(t *testing.T) {
	got := EstimateCost("deepseek-chat", 500_000, 250_000)
	want := 1.00 + 2.00
	if got != want {
		t.Fatalf("expected %f, got %f", want, got)
	}
}
