package indicator

import (
	"reflect"
	"testing"
)

func TestParseSpecs(t *testing.T) {
	specs, err := ParseSpecs("MA:5, ma:20,RSI:14,MACD:12/26/9,BOLL:20/2.5,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Spec{
		{Kind: KindMA, Period: 5},
		{Kind: KindMA, Period: 20},
		{Kind: KindRSI, Period: 14},
		{Kind: KindMACD, Fast: 12, Slow: 26, Signal: 9},
		{Kind: KindBollinger, Period: 20, K: 2.5},
	}
	if !reflect.DeepEqual(specs, want) {
		t.Errorf("expected %+v, got %+v", want, specs)
	}
}

func TestParseSpecs_Invalid(t *testing.T) {
	for _, in := range []string{"MA", "MA:0", "MACD:26/12/9", "MACD:12/26", "BOLL:20", "XYZ:5", "RSI:abc"} {
		if _, err := ParseSpecs(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestSpec_Lines(t *testing.T) {
	cases := map[string][]string{
		"MA_20":         Spec{Kind: KindMA, Period: 20}.Lines(),
		"MACD_12_26_9":  Spec{Kind: KindMACD, Fast: 12, Slow: 26, Signal: 9}.Lines()[:1],
		"BOLL_MID_20_2": Spec{Kind: KindBollinger, Period: 20, K: 2}.Lines()[1:2],
	}
	for want, got := range cases {
		if len(got) != 1 || got[0] != want {
			t.Errorf("expected [%s], got %v", want, got)
		}
	}
}
