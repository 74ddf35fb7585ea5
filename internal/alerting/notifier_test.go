package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := NewAlertNotification(testCandidate(), time.Now(), "https://www.coingecko.com/en/coins/{id}")

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	if !strings.Contains(text, "https://www.coingecko.com/en/coins/pepe") {
		t.Fatalf("text 应包含链接: %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{Kind: KindQuiet, Time: time.Now()}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageKinds(t *testing.T) {
	alert := RenderMessage(NewAlertNotification(testCandidate(), time.Time{}, ""))
	for _, want := range []string{"[1h] Pepe (PEPE)", "+55.00%", "threshold 50.00%"} {
		if !strings.Contains(alert, want) {
			t.Fatalf("alert message missing %q: %q", want, alert)
		}
	}

	errMsg := RenderMessage(Notification{Kind: KindError, Message: "fetch snapshots: timeout"})
	if !strings.Contains(errMsg, "timeout") {
		t.Fatalf("error message should carry diagnostic: %q", errMsg)
	}
}

func testCandidate() Candidate {
	return Candidate{
		Key:          AlertKey{AssetID: "pepe", Timeframe: market.Timeframe1h},
		Tier:         "1h",
		ChangePct:    decimal.NewFromInt(55),
		ThresholdPct: decimal.NewFromInt(50),
		Snapshot: market.Snapshot{
			ID:     "pepe",
			Name:   "Pepe",
			Symbol: "PEPE",
			Price:  decimal.NewNullDecimal(decimal.RequireFromString("0.0000012")),
			Volume: decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		},
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
