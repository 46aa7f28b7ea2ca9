// Package telegram puts the council in a chat window. Each Telegram chat
// maps to one conversation, so follow-up questions carry their context.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/avlachos/conclave/internal/config"
	"github.com/avlachos/conclave/internal/runner"
	"github.com/avlachos/conclave/internal/store"
)

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	runner  *runner.Runner
	store   *store.Store
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, run *runner.Runner, s *store.Store) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:    bot,
		runner: run,
		store:  s,
		cfg:    cfg,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if len(b.cfg.AllowFrom) > 0 {
		allowed := false
		for _, id := range b.cfg.AllowFrom {
			if id == userID {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
			return
		}
	}

	text := msg.Text
	if text == "" {
		if msg.Caption != "" {
			text = msg.Caption
		} else {
			return
		}
	}

	conversationID := conversationIDFor(chatID)
	existing, _ := b.store.GetConversation(conversationID)
	if existing == nil {
		if _, err := b.store.CreateConversation(conversationID); err != nil {
			slog.Error("failed to create telegram conversation", "chat", chatID, "error", err)
			return
		}
	}

	// A full deliberation takes a while; keep the typing indicator up.
	_ = b.sendChatAction(ctx, chatID, "typing")

	result, err := b.runner.AskSync(ctx, runner.Request{
		ConversationID: conversationID,
		Question:       text,
	})
	if err != nil {
		slog.Error("telegram council run failed", "chat", chatID, "error", err)
		reply := "Sorry, the council could not reach a verdict. Please try again."
		if result != nil && result.FinalText() != "" {
			reply = result.FinalText()
		}
		_ = b.SendMessage(ctx, chatID, reply)
		return
	}

	if err := b.SendMessage(ctx, chatID, toTelegramMarkdown(result.FinalText())); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := b.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

func conversationIDFor(chatID int64) string {
	return "tg-" + strconv.FormatInt(chatID, 10)
}
