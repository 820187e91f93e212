package kis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/config"
	"hantu-quant/pkg/types"
)

// newTestClient builds a client against a test server with a pre-seeded
// valid token and retries disabled (one attempt) so failure tests don't
// sleep through backoff.
func newTestClient(t *testing.T, srvURL string, retries int) *Client {
	t.Helper()
	cfg := &config.Config{
		Credentials: testCreds(),
		Client: config.ClientConfig{
			MaxRetries:     retries,
			RequestTimeout: 5 * time.Second,
			RetryableCodes: []string{"EGW00001"},
		},
	}
	tm, err := NewTokenManager(cfg.Credentials, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tm.token = tokenInfo{AccessToken: "test-token", ExpiresAt: time.Now().Add(time.Hour)}

	c := NewClient(cfg, tm, NewSlidingWindowLimiter(100), zerolog.Nop())
	c.http.SetBaseURL(srvURL)
	return c
}

func okEnvelope(output any) map[string]any {
	return map[string]any{"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok", "output": output}
}

func TestGetCurrentPriceParsesQuote(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("tr_id"); got != "FHKST01010100" {
			t.Errorf("tr_id = %q", got)
		}
		if got := r.Header.Get("authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("FID_INPUT_ISCD"); got != "005930" {
			t.Errorf("FID_INPUT_ISCD = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(okEnvelope(map[string]string{
			"stck_prpr": "71500",
			"prdy_vrss": "500",
			"prdy_ctrt": "0.70",
			"acml_vol":  "12345678",
			"stck_hgpr": "72000",
			"stck_lwpr": "70900",
			"stck_oprc": "71000",
		}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	price, err := c.GetCurrentPrice(context.Background(), "005930")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if price.CurrentPrice != 71500 {
		t.Errorf("CurrentPrice = %v, want 71500", price.CurrentPrice)
	}
	if price.PrevClose != 71000 {
		t.Errorf("PrevClose = %v, want 71000", price.PrevClose)
	}
	if price.Volume != 12345678 {
		t.Errorf("Volume = %d, want 12345678", price.Volume)
	}
}

func TestValidationRejectsBeforeNetworkIO(t *testing.T) {
	t.Parallel()
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)

	if _, err := c.GetCurrentPrice(context.Background(), "ABC"); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("bad code error = %v, want validation kind", err)
	}
	if _, err := c.GetDailyChart(context.Background(), "005930", 400); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("period 400 error = %v, want validation kind", err)
	}
	if _, err := c.GetMinuteBars(context.Background(), "005930", 1, 5000); !alert.IsKind(err, alert.KindValidation) {
		t.Errorf("count 5000 error = %v, want validation kind", err)
	}
	if hit {
		t.Error("validation failure reached the network")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:0", 1)

	cases := []struct {
		name     string
		code     string
		side     types.Side
		qty      int64
		price    float64
		division types.OrderDivision
	}{
		{"bad code", "93", types.BUY, 10, 1000, types.LIMIT},
		{"zero quantity", "005930", types.BUY, 0, 1000, types.LIMIT},
		{"oversize quantity", "005930", types.BUY, 20000, 1000, types.LIMIT},
		{"limit without price", "005930", types.BUY, 10, 0, types.LIMIT},
		{"market with price", "005930", types.SELL, 10, 1000, types.MARKET},
	}
	for _, tc := range cases {
		result := c.PlaceOrder(context.Background(), tc.code, tc.side, tc.qty, tc.price, tc.division)
		if result.Success {
			t.Errorf("%s: order accepted", tc.name)
		}
		if result.ErrorCode != "VALIDATION_ERROR" {
			t.Errorf("%s: error code = %q, want VALIDATION_ERROR", tc.name, result.ErrorCode)
		}
	}
}

func TestPlaceOrderSignsWithHashkey(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uapi/hashkey":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"HASH": "deadbeef"})
		case "/uapi/domestic-stock/v1/trading/order-cash":
			if got := r.Header.Get("hashkey"); got != "deadbeef" {
				t.Errorf("hashkey header = %q", got)
			}
			if got := r.Header.Get("tr_id"); got != "VTTC0011U" {
				t.Errorf("sell tr_id = %q, want VTTC0011U", got)
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["SLL_BUY_DVSN_CD"] != "01" {
				t.Errorf("SLL_BUY_DVSN_CD = %q, want 01", body["SLL_BUY_DVSN_CD"])
			}
			if body["ORD_DVSN"] != "01" {
				t.Errorf("ORD_DVSN = %q, want 01 (market)", body["ORD_DVSN"])
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(okEnvelope(map[string]string{"ODNO": "0000117057"}))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	result := c.PlaceOrder(context.Background(), "005930", types.SELL, 10, 0, types.MARKET)
	if !result.Success {
		t.Fatalf("order failed: %+v", result)
	}
	if result.OrderNumber != "0000117057" {
		t.Errorf("OrderNumber = %q", result.OrderNumber)
	}
}

func TestClassifyBusinessErrors(t *testing.T) {
	t.Parallel()
	respond := func(msgCd string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"rt_cd": "1", "msg_cd": msgCd, "msg1": "rejected"})
		}
	}

	cases := []struct {
		msgCd string
		kind  alert.Kind
		retry bool
	}{
		{"EGW00201", alert.KindRateLimit, true},
		{"EGW00001", alert.KindTransientNetwork, true}, // allowlisted
		{"APBK0013", alert.KindBrokerLogic, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(respond(tc.msgCd))
		c := newTestClient(t, srv.URL, 1)
		_, err := c.GetCurrentPrice(context.Background(), "005930")
		srv.Close()
		if !alert.IsKind(err, tc.kind) {
			t.Errorf("msg_cd %s: error = %v, want kind %v", tc.msgCd, err, tc.kind)
		}
		if alert.IsRetryable(err) != tc.retry {
			t.Errorf("msg_cd %s: retryable = %v, want %v", tc.msgCd, alert.IsRetryable(err), tc.retry)
		}
	}
}

func TestBackoffPolicy(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, "http://127.0.0.1:0", 3)

	rateLimited := alert.NewError(alert.KindRateLimit, "EGW00201", "", nil)
	if got := c.backoffFor(rateLimited, 1); got != 10*time.Second {
		t.Errorf("rate-limit backoff = %v, want 10s", got)
	}

	allowlisted := alert.NewError(alert.KindTransientNetwork, "EGW00001", "", nil)
	if got := c.backoffFor(allowlisted, 2); got != 4*time.Second {
		t.Errorf("allowlisted backoff attempt 2 = %v, want 4s", got)
	}

	network := alert.NewError(alert.KindTransientNetwork, "", "", nil)
	if got := c.backoffFor(network, 1); got != time.Second {
		t.Errorf("network backoff attempt 1 = %v, want 1s", got)
	}
	if got := c.backoffFor(network, 10); got != 8*time.Second {
		t.Errorf("network backoff cap = %v, want 8s", got)
	}
}

func TestGetBalanceFollowsContinuation(t *testing.T) {
	t.Parallel()
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			if got := r.Header.Get("tr_cont"); got != "" {
				t.Errorf("first page tr_cont = %q, want empty", got)
			}
			w.Header().Set("tr_cont", "M")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
				"output1": []map[string]string{{
					"pdno": "005930", "prdt_name": "Samsung", "hldg_qty": "10",
					"pchs_avg_pric": "70000.00", "prpr": "71500",
					"evlu_amt": "715000", "evlu_pfls_amt": "15000", "evlu_pfls_rt": "2.14",
				}},
				"output2":        []map[string]string{},
				"ctx_area_fk100": "FK1", "ctx_area_nk100": "NK1",
			})
		case 2:
			if got := r.Header.Get("tr_cont"); got != "N" {
				t.Errorf("second page tr_cont = %q, want N", got)
			}
			if got := r.URL.Query().Get("CTX_AREA_NK100"); got != "NK1" {
				t.Errorf("continuation key = %q, want NK1", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
				"output1": []map[string]string{{
					"pdno": "000660", "prdt_name": "SK hynix", "hldg_qty": "5",
					"pchs_avg_pric": "130000", "prpr": "128000",
					"evlu_amt": "640000", "evlu_pfls_amt": "-10000", "evlu_pfls_rt": "-1.54",
				}},
				"output2": []map[string]string{{
					"dnca_tot_amt": "5000000", "tot_evlu_amt": "6355000",
				}},
			})
		default:
			t.Errorf("unexpected page %d", page)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	balance, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if len(balance.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(balance.Positions))
	}
	if balance.Deposit != 5000000 {
		t.Errorf("Deposit = %v, want 5000000", balance.Deposit)
	}
	samsung := balance.Positions["005930"]
	if samsung.Quantity != 10 || samsung.AvgPrice != 70000 {
		t.Errorf("005930 = %+v", samsung)
	}
}

func TestGetDailyChartOrdersOldestFirst(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Broker convention: newest row first.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rt_cd": "0", "msg_cd": "MCA00000", "msg1": "ok",
			"output2": []map[string]string{
				{"stck_bsop_date": "20260825", "stck_oprc": "71000", "stck_hgpr": "72000", "stck_lwpr": "70500", "stck_clpr": "71500", "acml_vol": "100"},
				{"stck_bsop_date": "20260824", "stck_oprc": "70000", "stck_hgpr": "71000", "stck_lwpr": "69500", "stck_clpr": "70900", "acml_vol": "200"},
				{"stck_bsop_date": "", "stck_oprc": "", "stck_hgpr": "", "stck_lwpr": "", "stck_clpr": "", "acml_vol": ""},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	bars, err := c.GetDailyChart(context.Background(), "005930", 30)
	if err != nil {
		t.Fatalf("GetDailyChart: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2 (empty row dropped)", len(bars))
	}
	if !bars[0].Date.Before(bars[1].Date) {
		t.Error("bars not ordered oldest first")
	}
	if bars[1].Close != 71500 {
		t.Errorf("latest close = %v, want 71500", bars[1].Close)
	}
}

func TestTokenRefreshFailureSurfacesTyped(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	c.tokens.token = tokenInfo{} // force refresh, which the server rejects
	c.tokens.http.SetBaseURL(srv.URL)

	_, err := c.GetCurrentPrice(context.Background(), "005930")
	if !alert.IsKind(err, alert.KindTokenRefresh) {
		t.Errorf("error = %v, want token-refresh kind", err)
	}
}
