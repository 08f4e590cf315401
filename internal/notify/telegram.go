package notify

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier доставляет уведомления в чат Telegram. Отправка
// повторяется ограниченное число раз с растущей задержкой; исчерпание
// попыток фиксируется в журнале и не влияет на состояние сессии.
type TelegramNotifier struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	logger         *zap.Logger
}

// NewTelegramNotifier создаёт приёмник уведомлений для указанного чата.
func NewTelegramNotifier(botToken, chatID string, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}

	return &TelegramNotifier{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     3,
		retryDelayBase: time.Second,
		logger:         logger,
	}, nil
}

// Success отправляет уведомление об успешной операции.
func (n *TelegramNotifier) Success(text string) {
	n.send("✅ " + text)
}

// Error отправляет уведомление об ошибке операции.
func (n *TelegramNotifier) Error(text string) {
	n.send("⚠️ " + text)
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(n.retryDelayBase * time.Duration(i+1))
	}

	n.logger.Warn("telegram notification failed", zap.Error(lastErr))
}
