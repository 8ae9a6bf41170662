package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/redflow/internal/bus"
)

// StatusFunc renders the agent's current state for the /status command.
type StatusFunc func() string

// TelegramChannel forwards guard emergencies, budget warnings, and the
// daily summary to an allowlisted set of operators, and answers a small
// set of inbound commands.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	eventBus   *bus.Bus
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
	statusFn   StatusFunc
}

func NewTelegramChannel(token string, allowedIDs []int64, eventBus *bus.Bus, statusFn StatusFunc, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		eventBus:   eventBus,
		logger:     logger,
		statusFn:   statusFn,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	go t.forwardEvents(ctx)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads updates until ctx is done, the channel closes, or
// nothing arrives within 2.5x the long-poll timeout (stall detection).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied",
					"user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleCommand(update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleCommand(msg *tgbotapi.Message) {
	switch strings.TrimSpace(msg.Text) {
	case "/status":
		text := "status unavailable"
		if t.statusFn != nil {
			text = t.statusFn()
		}
		t.reply(msg.Chat.ID, text)
	case "/ping":
		t.reply(msg.Chat.ID, "pong")
	}
}

// forwardEvents turns bus events into operator alerts.
func (t *TelegramChannel) forwardEvents(ctx context.Context) {
	guardSub := t.eventBus.Subscribe("guard.")
	budgetSub := t.eventBus.Subscribe("budget.")
	summarySub := t.eventBus.Subscribe("summary.")
	defer t.eventBus.Unsubscribe(guardSub)
	defer t.eventBus.Unsubscribe(budgetSub)
	defer t.eventBus.Unsubscribe(summarySub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-guardSub.Ch():
			if ev.Topic != bus.TopicGuardEmergency {
				continue
			}
			if payload, ok := ev.Payload.(bus.GuardEvent); ok {
				t.broadcast(fmt.Sprintf("🚨 EMERGENCY STOP\n%s", payload.Reason))
			}
		case ev := <-budgetSub.Ch():
			t.broadcast(formatBudgetAlert(ev))
		case ev := <-summarySub.Ch():
			if payload, ok := ev.Payload.(bus.SummaryEvent); ok {
				t.broadcast(fmt.Sprintf("Daily summary %s\nactions: %d\ntokens: %d\ncost: ¥%.2f",
					payload.Date, payload.Actions, payload.TokensUsed, payload.Cost))
			}
		}
	}
}

func formatBudgetAlert(ev bus.Event) string {
	if payload, ok := ev.Payload.(bus.BudgetEvent); ok {
		return fmt.Sprintf("⚠️ budget warning: %s\ntokens: %d\ncost: ¥%.2f",
			payload.Reason, payload.TokensUsed, payload.Cost)
	}
	return "⚠️ budget warning"
}

func (t *TelegramChannel) broadcast(text string) {
	for id := range t.allowedIDs {
		t.reply(id, text)
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
	}
}
