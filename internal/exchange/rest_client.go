package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ksedatech/perp-sentinel/config"
	"github.com/ksedatech/perp-sentinel/internal/logging"
)

// RESTClient is a Binance USDT-M futures REST client satisfying Client.
// Transport retries (timeouts, 5xx, 429) are handled by go-retryablehttp;
// callers only ever see a RetriableError after those retries are
// exhausted, or a PermanentError for a 4xx rejection.
type RESTClient struct {
	http       *retryablehttp.Client
	baseURL    string
	apiKey     string
	secretKey  string
	recvWindow time.Duration
	log        *logging.Logger
}

// NewRESTClient builds a RESTClient from ExchangeConfig.
func NewRESTClient(cfg config.ExchangeConfig) *RESTClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.Logger = nil // structured logging is handled at the call site, not by the retry library

	return &RESTClient{
		http:       rc,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		recvWindow: cfg.RecvWindow,
		log:        logging.WithComponent("exchange"),
	}
}

func (c *RESTClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	return c.do(ctx, method, path, params, true)
}

func (c *RESTClient) publicRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, false)
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	endpoint := c.baseURL + path
	var req *retryablehttp.Request
	var err error

	if method == http.MethodGet || method == http.MethodDelete {
		if params != nil && len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
		req, err = retryablehttp.NewRequestWithContext(ctx, method, endpoint, nil)
	} else {
		req, err = retryablehttp.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if err != nil {
		return nil, &PermanentError{Op: path, Err: err}
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetriableError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetriableError{Op: path, Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return nil, &RetriableError{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= 400 {
		return nil, &PermanentError{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	return body, nil
}

// --- Market data ---

type klineRaw [12]interface{}

func (c *RESTClient) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	body, err := c.publicRequest(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}

	var raw []klineRaw
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetCandles", Err: err}
	}
	if len(raw) == 0 {
		return nil, ErrEmptyMarketData
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		candles = append(candles, Candle{
			OpenTime:  msToTime(k[0]),
			Open:      toFloat(k[1]),
			High:      toFloat(k[2]),
			Low:       toFloat(k[3]),
			Close:     toFloat(k[4]),
			Volume:    toFloat(k[5]),
			CloseTime: msToTime(k[6]),
			Trades:    toInt64(k[8]),
		})
	}
	return candles, nil
}

// GetHistoricalCandles pages through /fapi/v1/klines with startTime/
// endTime until the window is exhausted, since the venue caps a single
// response at 1500 candles.
func (c *RESTClient) GetHistoricalCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]Candle, error) {
	const pageLimit = 1500
	var out []Candle
	cursor := from

	for cursor.Before(to) {
		params := url.Values{
			"symbol":    {symbol},
			"interval":  {interval},
			"limit":     {strconv.Itoa(pageLimit)},
			"startTime": {strconv.FormatInt(cursor.UnixMilli(), 10)},
			"endTime":   {strconv.FormatInt(to.UnixMilli(), 10)},
		}
		body, err := c.publicRequest(ctx, "/fapi/v1/klines", params)
		if err != nil {
			return nil, err
		}

		var raw []klineRaw
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, &PermanentError{Op: "GetHistoricalCandles", Err: err}
		}
		if len(raw) == 0 {
			break
		}

		for _, k := range raw {
			out = append(out, Candle{
				OpenTime:  msToTime(k[0]),
				Open:      toFloat(k[1]),
				High:      toFloat(k[2]),
				Low:       toFloat(k[3]),
				Close:     toFloat(k[4]),
				Volume:    toFloat(k[5]),
				CloseTime: msToTime(k[6]),
				Trades:    toInt64(k[8]),
			})
		}

		last := out[len(out)-1].CloseTime
		if !last.After(cursor) {
			break // no progress; avoid an infinite loop on a malformed response
		}
		cursor = last.Add(time.Millisecond)

		if len(raw) < pageLimit {
			break
		}
	}

	if len(out) == 0 {
		return nil, ErrEmptyMarketData
	}
	return out, nil
}

func (c *RESTClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	body, err := c.publicRequest(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetOrderBook", Err: err}
	}
	if len(raw.Bids) == 0 && len(raw.Asks) == 0 {
		return nil, ErrEmptyMarketData
	}

	ob := &OrderBook{Symbol: symbol, Timestamp: time.Now()}
	for _, b := range raw.Bids {
		ob.Bids = append(ob.Bids, parseLevel(b))
	}
	for _, a := range raw.Asks {
		ob.Asks = append(ob.Asks, parseLevel(a))
	}
	return ob, nil
}

func (c *RESTClient) GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error) {
	body, err := c.publicRequest(ctx, "/fapi/v1/premiumIndex", url.Values{"symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbol          string `json:"symbol"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetMarkPrice", Err: err}
	}
	return &MarkPrice{
		Symbol:          raw.Symbol,
		Price:           parseF(raw.MarkPrice),
		IndexPrice:      parseF(raw.IndexPrice),
		FundingRate:     parseF(raw.LastFundingRate),
		NextFundingTime: time.UnixMilli(raw.NextFundingTime),
	}, nil
}

func (c *RESTClient) GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error) {
	params := url.Values{"symbol": {symbol}, "limit": {"1"}}
	body, err := c.publicRequest(ctx, "/fapi/v1/fundingRate", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol      string `json:"symbol"`
		FundingRate string `json:"fundingRate"`
		FundingTime int64  `json:"fundingTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetFundingRate", Err: err}
	}
	if len(raw) == 0 {
		return nil, ErrEmptyMarketData
	}
	return &FundingRate{Symbol: raw[0].Symbol, Rate: parseF(raw[0].FundingRate), Time: time.UnixMilli(raw[0].FundingTime)}, nil
}

func (c *RESTClient) GetTicker24h(ctx context.Context, symbol string) (*Ticker, error) {
	body, err := c.publicRequest(ctx, "/fapi/v1/ticker/24hr", url.Values{"symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetTicker24h", Err: err}
	}
	return &Ticker{
		Symbol: raw.Symbol, LastPrice: parseF(raw.LastPrice),
		PriceChangePercent: parseF(raw.PriceChangePercent),
		Volume:             parseF(raw.Volume), QuoteVolume: parseF(raw.QuoteVolume),
	}, nil
}

func (c *RESTClient) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	body, err := c.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				TickSize    string `json:"tickSize"`
				Notional    string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetSymbolInfo", Err: err}
	}
	for _, s := range raw.Symbols {
		if s.Symbol != symbol {
			continue
		}
		info := &SymbolInfo{Symbol: s.Symbol, PricePrecision: s.PricePrecision, QuantityPrecision: s.QuantityPrecision}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				info.MinQuantity = parseF(f.MinQty)
			case "PRICE_FILTER":
				info.TickSize = parseF(f.TickSize)
			case "MIN_NOTIONAL":
				info.MinNotional = parseF(f.Notional)
			}
		}
		return info, nil
	}
	return nil, ErrSymbolNotFound
}

// --- Trading ---

func (c *RESTClient) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResponse, error) {
	params := url.Values{
		"symbol":   {p.Symbol},
		"side":     {sideToVenue(p.Side)},
		"type":     {string(p.Type)},
		"quantity": {strconv.FormatFloat(p.Quantity, 'f', -1, 64)},
	}
	if p.Type == OrderTypeLimit {
		params.Set("price", strconv.FormatFloat(p.Price, 'f', -1, 64))
		params.Set("timeInForce", string(p.TimeInForce))
	}
	if p.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if p.ClientOrderID != "" {
		params.Set("newClientOrderId", p.ClientOrderID)
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrderResponse(body)
}

func (c *RESTClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{"symbol": {symbol}, "orderId": {strconv.FormatInt(orderID, 10)}}
	_, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

func (c *RESTClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {strconv.FormatInt(orderID, 10)}}
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return nil, err
	}
	return parseOrderResponse(body)
}

func (c *RESTClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{"symbol": {symbol}, "leverage": {strconv.Itoa(leverage)}}
	_, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// --- Account ---

func (c *RESTClient) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{"symbol": {symbol}})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		LiquidationPrice string `json:"liquidationPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetPosition", Err: err}
	}
	for _, p := range raw {
		amt := parseF(p.PositionAmt)
		if amt == 0 {
			continue
		}
		side := SideLong
		if amt < 0 {
			side = SideShort
			amt = -amt
		}
		lev, _ := strconv.Atoi(p.Leverage)
		return &Position{
			Symbol: p.Symbol, Side: side, EntryPrice: parseF(p.EntryPrice),
			MarkPrice: parseF(p.MarkPrice), Quantity: amt, Leverage: lev,
			UnrealizedPnL: parseF(p.UnRealizedProfit), LiquidationPrice: parseF(p.LiquidationPrice),
		}, nil
	}
	return nil, nil
}

func (c *RESTClient) GetAccountBalance(ctx context.Context) (*AccountBalance, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
		TotalUnrealizedPnL string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "GetAccountBalance", Err: err}
	}
	return &AccountBalance{
		TotalWalletBalance: parseF(raw.TotalWalletBalance),
		AvailableBalance:   parseF(raw.AvailableBalance),
		TotalUnrealizedPnL: parseF(raw.TotalUnrealizedPnL),
	}, nil
}

// --- helpers ---

func sideToVenue(s Side) string {
	if s == SideLong {
		return "BUY"
	}
	return "SELL"
}

func parseOrderResponse(body []byte) (*OrderResponse, error) {
	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		AvgPrice      string `json:"avgPrice"`
		ExecutedQty   string `json:"executedQty"`
		OrigQty       string `json:"origQty"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &PermanentError{Op: "parseOrderResponse", Err: err}
	}
	side := SideLong
	if raw.Side == "SELL" {
		side = SideShort
	}
	return &OrderResponse{
		OrderID: raw.OrderID, ClientOrderID: raw.ClientOrderID, Symbol: raw.Symbol,
		Side: side, Status: OrderStatus(raw.Status), Price: parseF(raw.Price),
		AvgFillPrice: parseF(raw.AvgPrice), ExecutedQty: parseF(raw.ExecutedQty),
		OrigQty: parseF(raw.OrigQty), UpdateTime: time.UnixMilli(raw.UpdateTime),
	}, nil
}

func parseLevel(pair [2]string) OrderBookLevel {
	return OrderBookLevel{Price: parseF(pair[0]), Quantity: parseF(pair[1])}
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func toFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	return parseF(s)
}

func toInt64(v interface{}) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(f)
}

func msToTime(v interface{}) time.Time {
	f, ok := v.(float64)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(f))
}

var _ Client = (*RESTClient)(nil)
