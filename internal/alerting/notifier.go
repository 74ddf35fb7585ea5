package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
)

// Kind classifies outbound notices.
type Kind string

const (
	KindAlert     Kind = "alert"
	KindQuiet     Kind = "quiet"
	KindError     Kind = "error"
	KindRateLimit Kind = "rate_limit"
	KindHeartbeat Kind = "heartbeat"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind         Kind
	Time         time.Time
	Tier         string
	Timeframe    market.Timeframe
	AssetID      string
	Name         string
	Symbol       string
	Price        decimal.Decimal
	Volume       decimal.Decimal
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Link         string
	Message      string
}

// NewAlertNotification builds an alert notice from an accepted candidate.
func NewAlertNotification(c Candidate, now time.Time, linkTemplate string) Notification {
	note := Notification{
		Kind:         KindAlert,
		Time:         now,
		Tier:         c.Tier,
		Timeframe:    c.Key.Timeframe,
		AssetID:      c.Key.AssetID,
		Name:         c.Snapshot.DisplayName(),
		Symbol:       c.Snapshot.Symbol,
		Price:        c.Snapshot.Price.Decimal,
		Volume:       c.Snapshot.Volume.Decimal,
		ChangePct:    c.ChangePct,
		ThresholdPct: c.ThresholdPct,
	}
	if linkTemplate != "" {
		note.Link = strings.ReplaceAll(linkTemplate, "{id}", c.Key.AssetID)
	}
	return note
}

// Notifier 定义告警输送接口。 Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     RenderMessage(note),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("asset", note.AssetID).
		Str("tier", note.Tier).
		Msg("通知已发送 (Telegram)")
	return nil
}

// LogNotifier writes notices to the log; used when no chat channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered notice.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().Str("kind", string(note.Kind)).Msg(RenderMessage(note))
	return nil
}

// RenderMessage formats a notice as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindAlert:
		builder.WriteString(fmt.Sprintf("[%s] %s", note.Tier, note.Name))
		if note.Symbol != "" {
			builder.WriteString(fmt.Sprintf(" (%s)", note.Symbol))
		}
		builder.WriteString("\n")
		builder.WriteString(fmt.Sprintf("Change %s: +%s%% (threshold %s%%)\n", note.Timeframe, note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Price: %s\n", note.Price.String()))
		builder.WriteString(fmt.Sprintf("Volume: %s\n", note.Volume.StringFixed(0)))
		if note.Link != "" {
			builder.WriteString(note.Link + "\n")
		}
	case KindQuiet:
		builder.WriteString("No threshold crossed this cycle.\n")
	case KindRateLimit:
		builder.WriteString("Market data source is rate limiting; polling paused.\n")
	case KindHeartbeat:
		builder.WriteString("moverwatch is alive.\n")
	case KindError:
		builder.WriteString("Cycle failed.\n")
	}
	if !note.Time.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Time.UTC().Format(time.RFC3339)))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
