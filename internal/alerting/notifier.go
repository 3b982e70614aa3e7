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
)

// Notification 封装告警上下文。
type Notification struct {
	At       time.Time
	Trigger  Trigger
	Channels []string
}

// Notifier 定义告警输送接口。
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
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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

	opp := note.Trigger.Opportunity
	n.logger.Info().Str("condition", note.Trigger.Condition.Name).
		Str("opportunity", opp.ID).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	opp := note.Trigger.Opportunity
	fixed := func(v float64, places int32) string {
		return decimal.NewFromFloat(v).StringFixed(places)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Arbitrage Alert] %s\n", note.Trigger.Condition.Name))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Instrument: %s\n", opp.Instrument))
	builder.WriteString(fmt.Sprintf("Buy: %s @ %s\n", opp.BuySource, decimal.NewFromFloat(opp.BuyPrice).String()))
	builder.WriteString(fmt.Sprintf("Sell: %s @ %s\n", opp.SellSource, decimal.NewFromFloat(opp.SellPrice).String()))
	builder.WriteString(fmt.Sprintf("Spread: %s%% (min %s%%)\n", fixed(opp.SpreadPercent, 3), fixed(note.Trigger.Condition.MinSpreadPercent, 3)))
	builder.WriteString(fmt.Sprintf("Profit potential: $%s\n", fixed(opp.ProfitPotential, 2)))
	builder.WriteString(fmt.Sprintf("Confidence: %s  Risk: %s\n", fixed(opp.ConfidenceScore, 2), opp.RiskTier))
	builder.WriteString(fmt.Sprintf("Window: ~%s\n", opp.ExecutionWindow().Round(time.Second)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
