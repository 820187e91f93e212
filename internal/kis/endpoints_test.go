package kis

import (
	"strings"
	"testing"

	"hantu-quant/pkg/types"
)

func TestResolveKnownEndpoints(t *testing.T) {
	t.Parallel()
	for _, name := range []string{
		EPCurrentPrice, EPDailyChart, EPMinuteBars, EPTickConclusions,
		EPOrderbook, EPBalance, EPOrderBuy, EPOrderSell,
	} {
		ep, err := Resolve(name)
		if err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
			continue
		}
		if ep.Path == "" || ep.TRIDPaper == "" || ep.TRIDLive == "" {
			t.Errorf("Resolve(%q) returned incomplete descriptor: %+v", name, ep)
		}
	}
}

func TestResolveUnknownEndpoint(t *testing.T) {
	t.Parallel()
	if _, err := Resolve("no_such_endpoint"); err == nil {
		t.Error("expected error for unknown endpoint")
	}
}

// Account and order endpoints use V-prefixed TR-IDs on paper, T-prefixed on
// live; market-data endpoints share one FHKST ID.
func TestTRIDPerServer(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		paper string
		live  string
	}{
		{EPBalance, "VTTC8434R", "TTTC8434R"},
		{EPOrderSell, "VTTC0011U", "TTTC0011U"},
		{EPOrderBuy, "VTTC0012U", "TTTC0012U"},
	}
	for _, tc := range cases {
		ep, err := Resolve(tc.name)
		if err != nil {
			t.Fatal(err)
		}
		if got := ep.TRID(types.Paper); got != tc.paper {
			t.Errorf("%s paper TR-ID = %q, want %q", tc.name, got, tc.paper)
		}
		if got := ep.TRID(types.Live); got != tc.live {
			t.Errorf("%s live TR-ID = %q, want %q", tc.name, got, tc.live)
		}
	}

	for _, name := range []string{EPCurrentPrice, EPDailyChart, EPOrderbook} {
		ep, err := Resolve(name)
		if err != nil {
			t.Fatal(err)
		}
		if ep.TRIDPaper != ep.TRIDLive {
			t.Errorf("%s: market-data TR-IDs differ across servers", name)
		}
		if !strings.HasPrefix(ep.TRIDPaper, "FHKST") {
			t.Errorf("%s: TR-ID %q is not an FHKST market-data ID", name, ep.TRIDPaper)
		}
	}
}

func TestOrderEndpointsRequireHashkey(t *testing.T) {
	t.Parallel()
	for _, name := range []string{EPOrderBuy, EPOrderSell} {
		ep, err := Resolve(name)
		if err != nil {
			t.Fatal(err)
		}
		if !ep.RequiresHashkey {
			t.Errorf("%s: RequiresHashkey = false", name)
		}
		if ep.Method != "POST" {
			t.Errorf("%s: method = %s, want POST", name, ep.Method)
		}
	}
}

func TestNumCoercion(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want float64
	}{
		{"1000", 1000},
		{"1000.00", 1000},
		{"-5.5", -5.5},
		{" 42 ", 42},
		{"", 0},
		{"n/a", 0},
	}
	for _, tc := range cases {
		if got := num(tc.in); got != tc.want {
			t.Errorf("num(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := inum("1000.00"); got != 1000 {
		t.Errorf("inum(\"1000.00\") = %d, want 1000", got)
	}
}
