// Package notify реализует доставку уведомлений о результатах операций сессии.
package notify

import "go.uber.org/zap"

// Notifier — приёмник уведомлений об исходах покупок и получения призов.
// Доставка выполняется по принципу fire-and-forget: ядро не читает результат
// и не повторяет отправку.
type Notifier interface {
	Success(text string)
	Error(text string)
}

// LogNotifier пишет уведомления в журнал. Используется, когда внешний канал
// доставки не настроен.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создаёт приёмник уведомлений поверх журнала.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Success записывает уведомление об успешной операции.
func (n *LogNotifier) Success(text string) {
	n.logger.Info("notification", zap.String("kind", "success"), zap.String("text", text))
}

// Error записывает уведомление об ошибке операции.
func (n *LogNotifier) Error(text string) {
	n.logger.Warn("notification", zap.String("kind", "error"), zap.String("text", text))
}
