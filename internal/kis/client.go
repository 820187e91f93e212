// Package kis implements the Korea Investment Securities REST and realtime
// clients.
//
// The REST client (Client) covers the endpoints the core needs:
//   - GetCurrentPrice:     quote for one symbol
//   - GetDailyChart:       daily OHLCV, up to 365 days
//   - GetMinuteBars:       intraday OHLCV, up to 1000 bars
//   - GetTickConclusions:  recent executions, up to 1000 rows
//   - GetOrderbook:        10-level asking price
//   - GetBalance:          deposit + holdings, with tr_cont paging
//   - PlaceOrder:          cash buy/sell with hashkey signing
//
// Every request validates its inputs before any I/O, refreshes the OAuth
// token when stale, takes a rate-limit slot, resolves its TR-ID from the
// endpoint registry, and classifies the response for retry. Transient
// conditions never escape the public methods as panics or raw errors — the
// caller always gets a typed result.
package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/config"
	"hantu-quant/internal/metrics"
	"hantu-quant/pkg/types"
)

const (
	maxPeriodDays = 365
	maxBarCount   = 1000
	maxOrderQty   = 10000

	rateLimitBackoff = 10 * time.Second
	rateLimitCode    = "EGW00201"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// apiResponse is the generic KIS response envelope. Outputs stay raw until
// the endpoint-specific parser runs.
type apiResponse struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`

	CtxAreaFK string `json:"ctx_area_fk100"`
	CtxAreaNK string `json:"ctx_area_nk100"`

	trCont string // response header, "M" means more pages
}

// Client is the KIS REST API client.
type Client struct {
	http      *resty.Client
	creds     config.Credentials
	tokens    *TokenManager
	limiter   *SlidingWindowLimiter
	retries   int
	retryable map[string]bool
	logger    zerolog.Logger
}

// NewClient creates a REST client bound to the configured server.
func NewClient(cfg *config.Config, tokens *TokenManager, limiter *SlidingWindowLimiter, logger zerolog.Logger) *Client {
	timeout := cfg.Client.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.Client.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	retryable := make(map[string]bool, len(cfg.Client.RetryableCodes))
	for _, code := range cfg.Client.RetryableCodes {
		retryable[code] = true
	}

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.Credentials.RESTBase()).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json; charset=utf-8"),
		creds:     cfg.Credentials,
		tokens:    tokens,
		limiter:   limiter,
		retries:   retries,
		retryable: retryable,
		logger:    logger.With().Str("component", "kis_client").Logger(),
	}
}

// Limiter exposes the shared rate limiter for batch callers.
func (c *Client) Limiter() *SlidingWindowLimiter { return c.limiter }

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// GetCurrentPrice fetches the live quote for one symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, code string) (types.PriceData, error) {
	if err := validateCode(code); err != nil {
		return types.PriceData{}, err
	}

	resp, err := c.do(ctx, EPCurrentPrice, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	}, nil, "")
	if err != nil {
		return types.PriceData{}, err
	}

	var out struct {
		Price      string `json:"stck_prpr"`
		ChangeAbs  string `json:"prdy_vrss"`
		ChangeRate string `json:"prdy_ctrt"`
		Volume     string `json:"acml_vol"`
		High       string `json:"stck_hgpr"`
		Low        string `json:"stck_lwpr"`
		Open       string `json:"stck_oprc"`
	}
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		return types.PriceData{}, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse current price output", err)
	}

	price := num(out.Price)
	return types.PriceData{
		Code:         code,
		CurrentPrice: price,
		ChangeRate:   num(out.ChangeRate),
		Volume:       inum(out.Volume),
		High:         num(out.High),
		Low:          num(out.Low),
		Open:         num(out.Open),
		PrevClose:    price - num(out.ChangeAbs),
		FetchedAt:    time.Now(),
	}, nil
}

// GetDailyChart fetches up to periodDays of daily bars, oldest first.
func (c *Client) GetDailyChart(ctx context.Context, code string, periodDays int) ([]types.Bar, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if periodDays < 1 || periodDays > maxPeriodDays {
		return nil, alert.Validation(fmt.Sprintf("period_days must be in [1, %d], got %d", maxPeriodDays, periodDays))
	}

	end := time.Now()
	start := end.AddDate(0, 0, -periodDays)
	resp, err := c.do(ctx, EPDailyChart, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
		"FID_INPUT_DATE_1":       start.Format("20060102"),
		"FID_INPUT_DATE_2":       end.Format("20060102"),
		"FID_PERIOD_DIV_CODE":    "D",
		"FID_ORG_ADJ_PRC":        "0",
	}, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date   string `json:"stck_bsop_date"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_clpr"`
		Volume string `json:"acml_vol"`
	}
	if err := json.Unmarshal(resp.Output2, &rows); err != nil {
		return nil, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse daily chart output", err)
	}

	// The broker returns newest first; indicators want oldest first.
	bars := make([]types.Bar, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if row.Date == "" {
			continue
		}
		date, err := time.ParseInLocation("20060102", row.Date, time.Local)
		if err != nil {
			continue
		}
		bars = append(bars, types.Bar{
			Date:   date,
			Open:   num(row.Open),
			High:   num(row.High),
			Low:    num(row.Low),
			Close:  num(row.Close),
			Volume: inum(row.Volume),
		})
	}
	return bars, nil
}

// GetMinuteBars fetches up to count intraday bars at the given minute unit,
// oldest first.
func (c *Client) GetMinuteBars(ctx context.Context, code string, unit, count int) ([]types.Bar, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if unit < 1 {
		return nil, alert.Validation(fmt.Sprintf("minute unit must be ≥ 1, got %d", unit))
	}
	if count < 1 || count > maxBarCount {
		return nil, alert.Validation(fmt.Sprintf("count must be in [1, %d], got %d", maxBarCount, count))
	}

	resp, err := c.do(ctx, EPMinuteBars, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
		"FID_INPUT_HOUR_1":       time.Now().Format("150405"),
		"FID_ETC_CLS_CODE":       "",
		"FID_PW_DATA_INCU_YN":    "Y",
	}, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Date   string `json:"stck_bsop_date"`
		Hour   string `json:"stck_cntg_hour"`
		Open   string `json:"stck_oprc"`
		High   string `json:"stck_hgpr"`
		Low    string `json:"stck_lwpr"`
		Close  string `json:"stck_prpr"`
		Volume string `json:"cntg_vol"`
	}
	if err := json.Unmarshal(resp.Output2, &rows); err != nil {
		return nil, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse minute bars output", err)
	}

	bars := make([]types.Bar, 0, count)
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		date, err := time.ParseInLocation("20060102150405", row.Date+row.Hour, time.Local)
		if err != nil {
			continue
		}
		bars = append(bars, types.Bar{
			Date:   date,
			Open:   num(row.Open),
			High:   num(row.High),
			Low:    num(row.Low),
			Close:  num(row.Close),
			Volume: inum(row.Volume),
		})
	}
	if unit > 1 {
		bars = aggregateBars(bars, unit)
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// aggregateBars folds 1-minute bars into unit-minute buckets aligned to
// the bar timestamps.
func aggregateBars(bars []types.Bar, unit int) []types.Bar {
	if len(bars) == 0 {
		return bars
	}
	span := time.Duration(unit) * time.Minute
	out := make([]types.Bar, 0, len(bars)/unit+1)
	var cur types.Bar
	var bucket time.Time
	for _, b := range bars {
		slot := b.Date.Truncate(span)
		if bucket.IsZero() || !slot.Equal(bucket) {
			if !bucket.IsZero() {
				out = append(out, cur)
			}
			bucket = slot
			cur = b
			cur.Date = slot
			continue
		}
		cur.High = max(cur.High, b.High)
		cur.Low = min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
	}
	out = append(out, cur)
	return out
}

// GetTickConclusions fetches up to count recent executions, newest first.
func (c *Client) GetTickConclusions(ctx context.Context, code string, count int) ([]types.TickConclusion, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if count < 1 || count > maxBarCount {
		return nil, alert.Validation(fmt.Sprintf("count must be in [1, %d], got %d", maxBarCount, count))
	}

	resp, err := c.do(ctx, EPTickConclusions, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	}, nil, "")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Hour       string `json:"stck_cntg_hour"`
		Price      string `json:"stck_prpr"`
		Volume     string `json:"cntg_vol"`
		ChangeRate string `json:"prdy_ctrt"`
	}
	if err := json.Unmarshal(resp.Output, &rows); err != nil {
		return nil, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse tick conclusions output", err)
	}

	if len(rows) > count {
		rows = rows[:count]
	}
	ticks := make([]types.TickConclusion, len(rows))
	for i, row := range rows {
		ticks[i] = types.TickConclusion{
			Time:       row.Hour,
			Price:      num(row.Price),
			Volume:     inum(row.Volume),
			ChangeRate: num(row.ChangeRate),
		}
	}
	return ticks, nil
}

// GetOrderbook fetches the 10-level book for one symbol.
func (c *Client) GetOrderbook(ctx context.Context, code string) (types.OrderbookSnapshot, error) {
	if err := validateCode(code); err != nil {
		return types.OrderbookSnapshot{}, err
	}

	resp, err := c.do(ctx, EPOrderbook, map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         code,
	}, nil, "")
	if err != nil {
		return types.OrderbookSnapshot{}, err
	}

	var out map[string]string
	if err := json.Unmarshal(resp.Output1, &out); err != nil {
		return types.OrderbookSnapshot{}, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse orderbook output", err)
	}

	book := types.OrderbookSnapshot{
		Code:        code,
		AskPrices:   make([]float64, 10),
		BidPrices:   make([]float64, 10),
		AskVolumes:  make([]int64, 10),
		BidVolumes:  make([]int64, 10),
		TotalAskQty: inum(out["total_askp_rsqn"]),
		TotalBidQty: inum(out["total_bidp_rsqn"]),
		Timestamp:   time.Now(),
	}
	for i := 0; i < 10; i++ {
		level := fmt.Sprintf("%d", i+1)
		book.AskPrices[i] = num(out["askp"+level])
		book.BidPrices[i] = num(out["bidp"+level])
		book.AskVolumes[i] = inum(out["askp_rsqn"+level])
		book.BidVolumes[i] = inum(out["bidp_rsqn"+level])
	}
	return book, nil
}

// ————————————————————————————————————————————————————————————————————————
// Account
// ————————————————————————————————————————————————————————————————————————

// GetBalance fetches the account snapshot, following tr_cont continuation
// headers until the final page.
func (c *Client) GetBalance(ctx context.Context) (types.Balance, error) {
	balance := types.Balance{Positions: make(map[string]types.PositionSummary)}

	trCont, ctxFK, ctxNK := "", "", ""
	for {
		resp, err := c.do(ctx, EPBalance, map[string]string{
			"CANO":                  c.creds.AccountNumber,
			"ACNT_PRDT_CD":          c.creds.AccountProductCode,
			"AFHR_FLPR_YN":          "N",
			"OFL_YN":                "",
			"INQR_DVSN":             "02",
			"UNPR_DVSN":             "01",
			"FUND_STTL_ICLD_YN":     "N",
			"FNCG_AMT_AUTO_RDPT_YN": "N",
			"PRCS_DVSN":             "00",
			"CTX_AREA_FK100":        ctxFK,
			"CTX_AREA_NK100":        ctxNK,
		}, nil, trCont)
		if err != nil {
			return types.Balance{}, err
		}

		var holdings []struct {
			Code          string `json:"pdno"`
			Name          string `json:"prdt_name"`
			Quantity      string `json:"hldg_qty"`
			AvgPrice      string `json:"pchs_avg_pric"`
			CurrentPrice  string `json:"prpr"`
			EvalAmount    string `json:"evlu_amt"`
			ProfitAmount  string `json:"evlu_pfls_amt"`
			ProfitPercent string `json:"evlu_pfls_rt"`
		}
		if len(resp.Output1) > 0 {
			if err := json.Unmarshal(resp.Output1, &holdings); err != nil {
				return types.Balance{}, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse balance holdings", err)
			}
		}
		for _, h := range holdings {
			qty := inum(h.Quantity)
			if h.Code == "" || qty == 0 {
				continue
			}
			balance.Positions[h.Code] = types.PositionSummary{
				Code:          h.Code,
				Name:          h.Name,
				Quantity:      qty,
				AvgPrice:      num(h.AvgPrice),
				CurrentPrice:  num(h.CurrentPrice),
				EvalAmount:    num(h.EvalAmount),
				ProfitAmount:  num(h.ProfitAmount),
				ProfitPercent: num(h.ProfitPercent),
			}
		}

		var summary []struct {
			Deposit   string `json:"dnca_tot_amt"`
			TotalEval string `json:"tot_evlu_amt"`
		}
		if len(resp.Output2) > 0 {
			if err := json.Unmarshal(resp.Output2, &summary); err != nil {
				return types.Balance{}, alert.NewError(alert.KindBrokerLogic, resp.MsgCd, "parse balance summary", err)
			}
		}
		if len(summary) > 0 {
			balance.Deposit = num(summary[0].Deposit)
			balance.TotalEvalAmount = num(summary[0].TotalEval)
		}

		if resp.trCont != "M" {
			break
		}
		trCont, ctxFK, ctxNK = "N", resp.CtxAreaFK, resp.CtxAreaNK
	}
	return balance, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// PlaceOrder submits a cash order. Validation failures and broker
// rejections come back inside the result; the method never panics and only
// returns error values already classified by the taxonomy.
func (c *Client) PlaceOrder(ctx context.Context, code string, side types.Side, quantity int64, price float64, division types.OrderDivision) types.OrderResult {
	if err := validateOrder(code, side, quantity, price, division); err != nil {
		return types.OrderResult{Success: false, ErrorCode: "VALIDATION_ERROR", Message: err.Error()}
	}

	endpoint := EPOrderBuy
	if side == types.SELL {
		endpoint = EPOrderSell
	}

	body := map[string]string{
		"CANO":            c.creds.AccountNumber,
		"ACNT_PRDT_CD":    c.creds.AccountProductCode,
		"PDNO":            code,
		"ORD_DVSN":        division.Code(),
		"ORD_QTY":         fmt.Sprintf("%d", quantity),
		"ORD_UNPR":        fmt.Sprintf("%d", int64(price)),
		"SLL_BUY_DVSN_CD": side.DivisionCode(),
	}

	resp, err := c.do(ctx, endpoint, nil, body, "")
	if err != nil {
		var ae *alert.Error
		errCode, msg := "REQUEST_FAILED", err.Error()
		if errors.As(err, &ae) {
			errCode, msg = ae.Code, ae.Message
		}
		return types.OrderResult{Success: false, ErrorCode: errCode, Message: msg}
	}

	var out struct {
		OrderNumber string `json:"ODNO"`
	}
	if err := json.Unmarshal(resp.Output, &out); err != nil {
		return types.OrderResult{Success: false, ErrorCode: resp.MsgCd, Message: "parse order output: " + err.Error()}
	}

	c.logger.Info().
		Str("code", code).
		Str("side", string(side)).
		Int64("quantity", quantity).
		Str("order_number", out.OrderNumber).
		Msg("order placed")
	return types.OrderResult{Success: true, OrderNumber: out.OrderNumber}
}

// ————————————————————————————————————————————————————————————————————————
// Request pipeline
// ————————————————————————————————————————————————————————————————————————

// do runs the per-request algorithm: token, rate slot, TR-ID resolution,
// hashkey for signed endpoints, send, classify, retry.
func (c *Client) do(ctx context.Context, endpointName string, params, body map[string]string, trCont string) (*apiResponse, error) {
	ep, err := Resolve(endpointName)
	if err != nil {
		return nil, alert.Validation(err.Error())
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			metrics.APIRetries.WithLabelValues(ep.Name).Inc()
		}

		resp, err := c.attempt(ctx, ep, params, body, trCont)
		if err == nil {
			metrics.APIRequests.WithLabelValues(ep.Name, "ok").Inc()
			return resp, nil
		}
		lastErr = err

		if !alert.IsRetryable(err) || attempt == c.retries {
			break
		}
		metrics.APIRequests.WithLabelValues(ep.Name, "retryable").Inc()

		backoff := c.backoffFor(err, attempt)
		c.logger.Warn().
			Str("endpoint", ep.Name).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("request failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	metrics.APIRequests.WithLabelValues(ep.Name, "failed").Inc()
	alert.LogError(ctx, c.logger, lastErr,
		alert.NewErrorContext(ep.Name, "kis_client", params["FID_INPUT_ISCD"], start))
	return nil, lastErr
}

// attempt performs exactly one request and classifies the outcome.
func (c *Client) attempt(ctx context.Context, ep Endpoint, params, body map[string]string, trCont string) (*apiResponse, error) {
	if !c.tokens.EnsureValidToken(ctx) {
		return nil, alert.NewError(alert.KindTokenRefresh, "", "access token unavailable", nil)
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, alert.NewError(alert.KindTransientNetwork, "", "rate limit wait cancelled", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("authorization", "Bearer "+c.tokens.AccessToken()).
		SetHeader("appkey", c.creds.AppKey).
		SetHeader("appsecret", c.creds.AppSecret).
		SetHeader("tr_id", ep.TRID(c.creds.Server)).
		SetHeader("custtype", "P")
	if trCont != "" {
		req.SetHeader("tr_cont", trCont)
	}

	var result apiResponse
	req.SetResult(&result)

	var resp *resty.Response
	var err error
	switch ep.Method {
	case "POST":
		if ep.RequiresHashkey {
			hash, herr := c.hashkey(ctx, body)
			if herr != nil {
				return nil, herr
			}
			req.SetHeader("hashkey", hash)
		}
		resp, err = req.SetBody(body).Post(ep.Path)
	default:
		resp, err = req.SetQueryParams(params).Get(ep.Path)
	}
	if err != nil {
		return nil, alert.NewError(alert.KindTransientNetwork, "", "request: "+err.Error(), err)
	}

	return c.classify(resp, &result)
}

// classify maps HTTP status and business codes to the error taxonomy.
func (c *Client) classify(resp *resty.Response, result *apiResponse) (*apiResponse, error) {
	status := resp.StatusCode()
	switch {
	case status >= 500:
		return nil, alert.NewError(alert.KindTransientNetwork, "",
			fmt.Sprintf("server error: status %d", status), nil)
	case status == 401 || status == 403:
		return nil, alert.NewError(alert.KindTokenRefresh, "",
			fmt.Sprintf("auth rejected: status %d", status), nil)
	case status >= 400:
		return nil, alert.NewError(alert.KindBrokerLogic, result.MsgCd,
			fmt.Sprintf("client error: status %d: %s", status, result.Msg1), nil)
	}

	if result.RtCd != "0" {
		switch {
		case result.MsgCd == rateLimitCode:
			return nil, alert.NewError(alert.KindRateLimit, result.MsgCd, result.Msg1, nil)
		case c.retryable[result.MsgCd]:
			return nil, alert.NewError(alert.KindTransientNetwork, result.MsgCd, result.Msg1, nil)
		default:
			return nil, alert.NewError(alert.KindBrokerLogic, result.MsgCd, result.Msg1, nil)
		}
	}

	result.trCont = resp.Header().Get("tr_cont")
	return result, nil
}

// backoffFor maps an error kind to its wait: a fixed 10s for the gateway
// rate limit, 2·attempt seconds for allowlisted business codes, capped
// exponential otherwise.
func (c *Client) backoffFor(err error, attempt int) time.Duration {
	var ae *alert.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case alert.KindRateLimit:
			return rateLimitBackoff
		case alert.KindTransientNetwork:
			if ae.Code != "" {
				return time.Duration(2*attempt) * time.Second
			}
		}
	}
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > 8*time.Second {
		backoff = 8 * time.Second
	}
	return backoff
}

// hashkey requests the broker-computed digest of the order body. The
// returned hash authenticates the exact body bytes in the order request.
func (c *Client) hashkey(ctx context.Context, body map[string]string) (string, error) {
	var out struct {
		Hash string `json:"HASH"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("appkey", c.creds.AppKey).
		SetHeader("appsecret", c.creds.AppSecret).
		SetBody(body).
		SetResult(&out).
		Post("/uapi/hashkey")
	if err != nil {
		return "", alert.NewError(alert.KindTransientNetwork, "", "hashkey: "+err.Error(), err)
	}
	if resp.StatusCode() != 200 || out.Hash == "" {
		return "", alert.NewError(alert.KindTransientNetwork, "",
			fmt.Sprintf("hashkey: status %d", resp.StatusCode()), nil)
	}
	return out.Hash, nil
}

// ————————————————————————————————————————————————————————————————————————
// Validation
// ————————————————————————————————————————————————————————————————————————

func validateCode(code string) error {
	if !codePattern.MatchString(code) {
		return alert.Validation(fmt.Sprintf("symbol must be 6 digits, got %q", code))
	}
	return nil
}

func validateOrder(code string, side types.Side, quantity int64, price float64, division types.OrderDivision) error {
	if err := validateCode(code); err != nil {
		return err
	}
	if side != types.BUY && side != types.SELL {
		return alert.Validation(fmt.Sprintf("side must be BUY or SELL, got %q", side))
	}
	if quantity < 1 || quantity > maxOrderQty {
		return alert.Validation(fmt.Sprintf("quantity must be in [1, %d], got %d", maxOrderQty, quantity))
	}
	switch division {
	case types.LIMIT:
		if price <= 0 {
			return alert.Validation("limit orders require price > 0")
		}
	case types.MARKET:
		if price != 0 {
			return alert.Validation("market orders require price == 0")
		}
	default:
		return alert.Validation(fmt.Sprintf("division must be LIMIT or MARKET, got %q", division))
	}
	return nil
}
