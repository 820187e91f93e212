// endpoints.go is the compile-time registry of KIS REST endpoints.
//
// Every endpoint the core touches is declared here with its HTTP method,
// path, and the paper/live TR-ID pair. TR-IDs are never constructed
// dynamically — a request either resolves to a registered descriptor or is
// rejected before any network I/O. Market-data endpoints share one FHKST
// TR-ID across environments; account and order endpoints differ (paper IDs
// start with V, live with T).
package kis

import (
	"fmt"

	"hantu-quant/pkg/types"
)

// Endpoint describes one registered KIS REST endpoint.
type Endpoint struct {
	Name            string
	Method          string
	Path            string
	TRIDPaper       string
	TRIDLive        string
	RequiredParams  []string
	RequiresHashkey bool
}

// TRID resolves the transaction ID for the given server.
func (e Endpoint) TRID(server types.Server) string {
	if server == types.Live {
		return e.TRIDLive
	}
	return e.TRIDPaper
}

// Registered endpoint names.
const (
	EPCurrentPrice    = "current_price"
	EPDailyChart      = "daily_chart"
	EPMinuteBars      = "minute_bars"
	EPTickConclusions = "tick_conclusions"
	EPOrderbook       = "orderbook"
	EPBalance         = "balance"
	EPOrderBuy        = "order_buy"
	EPOrderSell       = "order_sell"
)

var endpoints = map[string]Endpoint{
	EPCurrentPrice: {
		Name:           EPCurrentPrice,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-price",
		TRIDPaper:      "FHKST01010100",
		TRIDLive:       "FHKST01010100",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD"},
	},
	EPDailyChart: {
		Name:           EPDailyChart,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice",
		TRIDPaper:      "FHKST03010100",
		TRIDLive:       "FHKST03010100",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD", "FID_INPUT_DATE_1", "FID_INPUT_DATE_2", "FID_PERIOD_DIV_CODE"},
	},
	EPMinuteBars: {
		Name:           EPMinuteBars,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice",
		TRIDPaper:      "FHKST03010200",
		TRIDLive:       "FHKST03010200",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD", "FID_INPUT_HOUR_1"},
	},
	EPTickConclusions: {
		Name:           EPTickConclusions,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-ccnl",
		TRIDPaper:      "FHKST01010300",
		TRIDLive:       "FHKST01010300",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD"},
	},
	EPOrderbook: {
		Name:           EPOrderbook,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn",
		TRIDPaper:      "FHKST01010200",
		TRIDLive:       "FHKST01010200",
		RequiredParams: []string{"FID_COND_MRKT_DIV_CODE", "FID_INPUT_ISCD"},
	},
	EPBalance: {
		Name:           EPBalance,
		Method:         "GET",
		Path:           "/uapi/domestic-stock/v1/trading/inquire-balance",
		TRIDPaper:      "VTTC8434R",
		TRIDLive:       "TTTC8434R",
		RequiredParams: []string{"CANO", "ACNT_PRDT_CD"},
	},
	EPOrderBuy: {
		Name:            EPOrderBuy,
		Method:          "POST",
		Path:            "/uapi/domestic-stock/v1/trading/order-cash",
		TRIDPaper:       "VTTC0012U",
		TRIDLive:        "TTTC0012U",
		RequiredParams:  []string{"CANO", "ACNT_PRDT_CD", "PDNO", "ORD_DVSN", "ORD_QTY", "ORD_UNPR"},
		RequiresHashkey: true,
	},
	EPOrderSell: {
		Name:            EPOrderSell,
		Method:          "POST",
		Path:            "/uapi/domestic-stock/v1/trading/order-cash",
		TRIDPaper:       "VTTC0011U",
		TRIDLive:        "TTTC0011U",
		RequiredParams:  []string{"CANO", "ACNT_PRDT_CD", "PDNO", "ORD_DVSN", "ORD_QTY", "ORD_UNPR"},
		RequiresHashkey: true,
	},
}

// Resolve looks up a registered endpoint by name.
func Resolve(name string) (Endpoint, error) {
	ep, ok := endpoints[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("unknown endpoint %q", name)
	}
	return ep, nil
}

// Realtime TR-IDs for the websocket feed.
const (
	TROrderbook = "H0STASP0" // 10-level asking price
	TRTrade     = "H0STCNT0" // executions
	TRFill      = "H0STCNI0" // own order fills
)

// RequiredSubscriptions is the TR-ID set subscribed per monitored symbol.
var RequiredSubscriptions = []string{TROrderbook, TRTrade, TRFill}
