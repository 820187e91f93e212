// ws.go implements the KIS realtime feed.
//
// One connection carries every subscription. Each monitored symbol is
// subscribed under three TR-IDs: H0STASP0 (orderbook), H0STCNT0 (trades),
// H0STCNI0 (own fills). Subscribe/unsubscribe frames are JSON with the
// access token as approval_key and tr_type "1"/"2"; data frames arrive as
// pipe-delimited bodies whose field order is fixed per TR-ID.
//
// The client auto-reconnects with a fixed 5-second backoff and re-issues
// every active (code, tr_id) subscription in order, spaced 0.5s apart to
// respect the gateway's admission control. The callback registry survives
// reconnection. Close sends unsubscribes for all active symbols before
// tearing down the socket.
package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hantu-quant/internal/metrics"
	"hantu-quant/pkg/types"
)

const (
	wsConnectTimeout = 10 * time.Second
	wsWriteTimeout   = 10 * time.Second
	reconnectWait    = 5 * time.Second
	resubscribeSpace = 500 * time.Millisecond

	tickBufferSize = 256
	bookBufferSize = 128
)

// Trade frame field offsets (H0STCNT0). Fixed by the wire contract;
// frames shorter than tradeFrameMinFields are dropped.
const (
	tradeFrameMinFields = 20

	tfCode       = 0
	tfTime       = 1
	tfPrice      = 2
	tfSign       = 3
	tfChangeAbs  = 4
	tfChangeRate = 5
	tfVolume     = 12
	tfCumVolume  = 14
	tfOpen       = 16
	tfHigh       = 17
	tfLow        = 18
)

// Orderbook frame field offsets (H0STASP0).
const (
	bookFrameMinFields = 60

	bfAskStart     = 4  // 10 ask price levels
	bfBidStart     = 14 // 10 bid price levels
	bfAskVolStart  = 24
	bfBidVolStart  = 34
	bfTotalAskQty  = 44
	bfTotalBidQty  = 45
	bookLevelCount = 10
)

// Callback receives a parsed frame payload: types.TradeTick,
// types.OrderbookSnapshot, or types.RawFrame.
type Callback func(payload any)

// wsRequest is the subscribe/unsubscribe frame.
type wsRequest struct {
	Header wsRequestHeader `json:"header"`
	Body   wsRequestBody   `json:"body"`
}

type wsRequestHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"` // "1" subscribe, "2" unsubscribe
	ContentType string `json:"content-type"`
}

type wsRequestBody struct {
	Input wsRequestInput `json:"input"`
}

type wsRequestInput struct {
	TrID  string `json:"tr_id"`
	TrKey string `json:"tr_key"` // symbol code
}

type subscription struct {
	code string
	trID string
}

// RealtimeClient maintains the KIS websocket connection.
type RealtimeClient struct {
	url    string
	tokens *TokenManager
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	// Active subscriptions in issue order, for resubscribe on reconnect.
	subMu  sync.Mutex
	subs   []subscription
	subSet map[subscription]bool

	cbMu      sync.RWMutex
	callbacks map[string][]Callback

	tickCh chan types.TradeTick
	bookCh chan types.OrderbookSnapshot
}

// NewRealtimeClient creates a realtime client for the configured server.
func NewRealtimeClient(wsBase string, tokens *TokenManager, logger zerolog.Logger) *RealtimeClient {
	return &RealtimeClient{
		url:       wsBase,
		tokens:    tokens,
		logger:    logger.With().Str("component", "kis_ws").Logger(),
		subSet:    make(map[subscription]bool),
		callbacks: make(map[string][]Callback),
		tickCh:    make(chan types.TradeTick, tickBufferSize),
		bookCh:    make(chan types.OrderbookSnapshot, bookBufferSize),
	}
}

// Ticks returns the channel of parsed trade frames.
func (rc *RealtimeClient) Ticks() <-chan types.TradeTick { return rc.tickCh }

// Books returns the channel of parsed orderbook frames.
func (rc *RealtimeClient) Books() <-chan types.OrderbookSnapshot { return rc.bookCh }

// On registers a callback for a TR-ID. Callbacks persist across
// reconnects and run on the read loop goroutine; keep them fast.
func (rc *RealtimeClient) On(trID string, cb Callback) {
	rc.cbMu.Lock()
	defer rc.cbMu.Unlock()
	rc.callbacks[trID] = append(rc.callbacks[trID], cb)
}

// Subscribe registers the symbol under each TR-ID and sends subscribe
// frames when connected. Registration is remembered either way, so a
// later (re)connect picks it up.
func (rc *RealtimeClient) Subscribe(ctx context.Context, code string, trIDs []string) error {
	if err := validateCode(code); err != nil {
		return err
	}
	if len(trIDs) == 0 {
		trIDs = RequiredSubscriptions
	}

	rc.subMu.Lock()
	added := make([]subscription, 0, len(trIDs))
	for _, trID := range trIDs {
		sub := subscription{code: code, trID: trID}
		if !rc.subSet[sub] {
			rc.subSet[sub] = true
			rc.subs = append(rc.subs, sub)
			added = append(added, sub)
		}
	}
	rc.subMu.Unlock()

	for _, sub := range added {
		if err := rc.sendControl(sub, "1"); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes every TR-ID registration for the symbol.
func (rc *RealtimeClient) Unsubscribe(ctx context.Context, code string) error {
	rc.subMu.Lock()
	var removed []subscription
	kept := rc.subs[:0]
	for _, sub := range rc.subs {
		if sub.code == code {
			delete(rc.subSet, sub)
			removed = append(removed, sub)
			continue
		}
		kept = append(kept, sub)
	}
	rc.subs = kept
	rc.subMu.Unlock()

	var firstErr error
	for _, sub := range removed {
		if err := rc.sendControl(sub, "2"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting with a fixed backoff and replaying subscriptions.
func (rc *RealtimeClient) Run(ctx context.Context) error {
	first := true
	for {
		if err := rc.connectAndRead(ctx, first); ctx.Err() != nil {
			return ctx.Err()
		} else if err != nil {
			rc.logger.Warn().Err(err).Dur("backoff", reconnectWait).Msg("realtime disconnected, reconnecting")
		}
		first = false
		metrics.WSReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

// Close unsubscribes every active symbol, then closes the socket.
func (rc *RealtimeClient) Close() error {
	rc.subMu.Lock()
	subs := make([]subscription, len(rc.subs))
	copy(subs, rc.subs)
	rc.subMu.Unlock()

	for _, sub := range subs {
		if err := rc.sendControl(sub, "2"); err != nil {
			break // socket already gone, nothing more to flush
		}
	}

	rc.connMu.Lock()
	defer rc.connMu.Unlock()
	if rc.conn != nil {
		err := rc.conn.Close()
		rc.conn = nil
		return err
	}
	return nil
}

func (rc *RealtimeClient) connectAndRead(ctx context.Context, first bool) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, rc.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	rc.connMu.Lock()
	rc.conn = conn
	rc.connMu.Unlock()
	defer func() {
		rc.connMu.Lock()
		conn.Close()
		rc.conn = nil
		rc.connMu.Unlock()
	}()

	rc.logger.Info().Str("url", rc.url).Bool("reconnect", !first).Msg("realtime connected")

	if err := rc.resubscribe(ctx); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		rc.dispatch(string(msg))
	}
}

// resubscribe replays every active subscription in original order with
// fixed spacing between frames.
func (rc *RealtimeClient) resubscribe(ctx context.Context) error {
	rc.subMu.Lock()
	subs := make([]subscription, len(rc.subs))
	copy(subs, rc.subs)
	rc.subMu.Unlock()

	for i, sub := range subs {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(resubscribeSpace):
			}
		}
		if err := rc.sendControl(sub, "1"); err != nil {
			return err
		}
	}
	if len(subs) > 0 {
		rc.logger.Info().Int("subscriptions", len(subs)).Msg("subscriptions replayed")
	}
	return nil
}

// sendControl writes one subscribe/unsubscribe frame. A nil connection is
// not an error: the pending registration is replayed on connect.
func (rc *RealtimeClient) sendControl(sub subscription, trType string) error {
	rc.connMu.Lock()
	defer rc.connMu.Unlock()
	if rc.conn == nil {
		return nil
	}

	frame := wsRequest{
		Header: wsRequestHeader{
			ApprovalKey: rc.tokens.AccessToken(),
			CustType:    "P",
			TrType:      trType,
			ContentType: "utf-8",
		},
		Body: wsRequestBody{Input: wsRequestInput{TrID: sub.trID, TrKey: sub.code}},
	}
	rc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return rc.conn.WriteJSON(frame)
}

// ————————————————————————————————————————————————————————————————————————
// Frame parsing
// ————————————————————————————————————————————————————————————————————————

// dispatch routes one raw message. Data frames are pipe-delimited:
// flag|tr_id|seq|field0|field1|... Control messages (subscribe acks,
// PINGPONG) arrive as JSON and are logged at debug.
func (rc *RealtimeClient) dispatch(msg string) {
	if strings.HasPrefix(msg, "{") {
		rc.handleControl(msg)
		return
	}

	parts := strings.Split(msg, "|")
	if len(parts) < 4 {
		rc.logger.Debug().Str("frame", truncate(msg, 80)).Msg("ignoring short frame")
		return
	}
	trID := parts[1]
	fields := parts[3:]

	switch trID {
	case TRTrade:
		tick, ok := parseTradeFrame(fields)
		if !ok {
			rc.logger.Debug().Int("fields", len(fields)).Msg("dropping short trade frame")
			return
		}
		select {
		case rc.tickCh <- tick:
		default:
			rc.logger.Warn().Str("code", tick.Code).Msg("tick channel full, dropping")
		}
		rc.invoke(trID, tick)

	case TROrderbook:
		book, ok := parseBookFrame(fields)
		if !ok {
			rc.logger.Debug().Int("fields", len(fields)).Msg("dropping short orderbook frame")
			return
		}
		select {
		case rc.bookCh <- book:
		default:
			rc.logger.Warn().Str("code", book.Code).Msg("book channel full, dropping")
		}
		rc.invoke(trID, book)

	default:
		rc.invoke(trID, types.RawFrame{TRID: trID, Body: strings.Join(fields, "|")})
	}
}

func (rc *RealtimeClient) handleControl(msg string) {
	var envelope struct {
		Header struct {
			TrID string `json:"tr_id"`
		} `json:"header"`
	}
	if err := json.Unmarshal([]byte(msg), &envelope); err != nil {
		rc.logger.Debug().Str("frame", truncate(msg, 80)).Msg("ignoring non-json control message")
		return
	}
	if envelope.Header.TrID == "PINGPONG" {
		rc.connMu.Lock()
		if rc.conn != nil {
			rc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = rc.conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		rc.connMu.Unlock()
		return
	}
	rc.logger.Debug().Str("tr_id", envelope.Header.TrID).Msg("control message")
}

func (rc *RealtimeClient) invoke(trID string, payload any) {
	rc.cbMu.RLock()
	cbs := rc.callbacks[trID]
	rc.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

// parseTradeFrame decodes an H0STCNT0 body. Empty fields coerce to 0;
// frames with fewer than 20 fields are rejected.
func parseTradeFrame(fields []string) (types.TradeTick, bool) {
	if len(fields) < tradeFrameMinFields {
		return types.TradeTick{}, false
	}
	return types.TradeTick{
		Code:       fields[tfCode],
		Time:       fields[tfTime],
		Price:      num(fields[tfPrice]),
		Sign:       fields[tfSign],
		ChangeAbs:  num(fields[tfChangeAbs]),
		ChangeRate: num(fields[tfChangeRate]),
		Volume:     inum(fields[tfVolume]),
		CumVolume:  inum(fields[tfCumVolume]),
		Open:       num(fields[tfOpen]),
		High:       num(fields[tfHigh]),
		Low:        num(fields[tfLow]),
	}, true
}

// parseBookFrame decodes an H0STASP0 body: 10 ask levels, 10 bid levels,
// matching sizes, and the two depth totals.
func parseBookFrame(fields []string) (types.OrderbookSnapshot, bool) {
	if len(fields) < bookFrameMinFields {
		return types.OrderbookSnapshot{}, false
	}
	book := types.OrderbookSnapshot{
		Code:        fields[0],
		AskPrices:   make([]float64, bookLevelCount),
		BidPrices:   make([]float64, bookLevelCount),
		AskVolumes:  make([]int64, bookLevelCount),
		BidVolumes:  make([]int64, bookLevelCount),
		TotalAskQty: inum(fields[bfTotalAskQty]),
		TotalBidQty: inum(fields[bfTotalBidQty]),
		Timestamp:   time.Now(),
	}
	for i := 0; i < bookLevelCount; i++ {
		book.AskPrices[i] = num(fields[bfAskStart+i])
		book.BidPrices[i] = num(fields[bfBidStart+i])
		book.AskVolumes[i] = inum(fields[bfAskVolStart+i])
		book.BidVolumes[i] = inum(fields[bfBidVolStart+i])
	}
	return book, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
