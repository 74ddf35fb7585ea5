package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const coinsMarketsPath = "/coins/markets"

// DefaultFields maps timeframes to CoinGecko /coins/markets response fields.
// The public price_change_percentage parameter accepts 1h,24h,7d,14d,30d,200d,1y,
// so 15m and 30m are absent and must be derived or mapped for a compatible API.
var DefaultFields = map[Timeframe]string{
	Timeframe1h: "price_change_percentage_1h_in_currency",
}

// CoinGeckoOptions parameterise the markets fetcher.
type CoinGeckoOptions struct {
	BaseURL    string
	VsCurrency string
	PerPage    int
	Pages      int
	Order      string
	APIKey     string
	Timeout    time.Duration
	UserAgent  string
	Fields     map[Timeframe]string
}

// CoinGecko fetches market snapshots from a CoinGecko-compatible API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a markets fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if len(opts.Fields) == 0 {
		opts.Fields = DefaultFields
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSnapshots retrieves every configured page and normalises it into snapshots.
func (c *CoinGecko) FetchSnapshots(ctx context.Context) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0, c.opts.PerPage*c.opts.Pages)
	for page := 1; page <= c.opts.Pages; page++ {
		batch, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, batch...)
		if len(batch) < c.opts.PerPage {
			break
		}
	}

	c.logger.Debug().Int("count", len(snapshots)).Msg("snapshots fetched")
	return snapshots, nil
}

func (c *CoinGecko) fetchPage(ctx context.Context, page int) ([]Snapshot, error) {
	query := url.Values{}
	query.Set("vs_currency", c.opts.VsCurrency)
	query.Set("per_page", strconv.Itoa(c.opts.PerPage))
	query.Set("page", strconv.Itoa(page))
	if c.opts.Order != "" {
		query.Set("order", c.opts.Order)
	}
	if windows := c.changeWindows(); windows != "" {
		query.Set("price_change_percentage", windows)
	}

	endpoint := c.baseURL + coinsMarketsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "moverwatch/1.0")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request markets page %d: %w", page, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read markets page %d: %w", page, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	return c.parseSnapshots(payload)
}

func (c *CoinGecko) changeWindows() string {
	windows := make([]string, 0, len(c.opts.Fields))
	for _, tf := range Timeframes() {
		if _, ok := c.opts.Fields[tf]; ok {
			windows = append(windows, string(tf))
		}
	}
	return strings.Join(windows, ",")
}

func (c *CoinGecko) parseSnapshots(payload []byte) ([]Snapshot, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		if isRateLimitPayload(trimmed) {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("malformed markets payload: expected array, got %s", preview(trimmed))
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode markets payload: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(records))
	for _, raw := range records {
		snapshots = append(snapshots, c.parseRecord(raw))
	}
	return snapshots, nil
}

// parseRecord never fails; unusable records come back malformed and are
// dropped at evaluation time.
func (c *CoinGecko) parseRecord(raw json.RawMessage) Snapshot {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		c.logger.Debug().Err(err).Msg("skipping non-object market record")
		return Snapshot{}
	}

	snap := Snapshot{
		ID:      stringField(fields, "id"),
		Name:    stringField(fields, "name"),
		Symbol:  strings.ToUpper(stringField(fields, "symbol")),
		Price:   decimalField(fields, "current_price"),
		Volume:  decimalField(fields, "total_volume"),
		Changes: make(map[Timeframe]decimal.NullDecimal, len(c.opts.Fields)),
	}
	for tf, key := range c.opts.Fields {
		if v := decimalField(fields, key); v.Valid {
			snap.Changes[tf] = v
		}
	}
	return snap
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decimalField(fields map[string]json.RawMessage, key string) decimal.NullDecimal {
	raw, ok := fields[key]
	if !ok {
		return decimal.NullDecimal{}
	}
	var v decimal.NullDecimal
	if err := v.UnmarshalJSON(raw); err != nil {
		return decimal.NullDecimal{}
	}
	return v
}

type statusEnvelope struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func isRateLimitPayload(payload []byte) bool {
	var env statusEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	return env.Status.ErrorCode == http.StatusTooManyRequests
}

func parseHTTPError(status int, payload []byte) error {
	var env statusEnvelope
	if err := json.Unmarshal(payload, &env); err == nil {
		if env.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, env.Status.ErrorMessage)
		}
		if env.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, env.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, preview(payload))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

func preview(payload []byte) string {
	const max = 200
	s := strings.TrimSpace(string(payload))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ Source = (*CoinGecko)(nil)
