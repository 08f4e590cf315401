// Package model содержит доменные сущности сессии розыгрыша.
package model

import (
	"strconv"
	"strings"
)

// WrappedNativeMint — минт обёрнутой нативной валюты. Когда она выбрана
// валютой платежа, действующий баланс выводится из нативного баланса
// кошелька: токеновый счёт может не существовать.
const WrappedNativeMint = "So11111111111111111111111111111111111111112"

// Token описывает валюту, принимаемую в оплату билетов.
type Token struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// PaymentOption — валюта платежа вместе с фиксированным курсом обмена.
// Стоимость в валюте платежа равна ticketPrice × count × RateIn / RateOut.
// Для нативной валюты розыгрыша RateIn = RateOut = 1.
type PaymentOption struct {
	Token   Token  `json:"token"`
	RateIn  uint64 `json:"rate_in"`
	RateOut uint64 `json:"rate_out"`
}

// IsWrappedNative сообщает, является ли валюта платежа обёрнутой нативной.
func (p PaymentOption) IsWrappedNative() bool {
	return p.Token.Mint == WrappedNativeMint
}

// Prize описывает призовой слот розыгрыша и его неполученный остаток.
// Приз с нулевым остатком получить нельзя.
type Prize struct {
	Token  Token  `json:"token"`
	Amount uint64 `json:"amount"`
}

// Raffle — снимок состояния розыгрыша. Снимок изменяется только внешней
// системой: ядро читает его и запрашивает обновление после успешной покупки.
type Raffle struct {
	Address      string          `json:"address"`
	TotalTickets uint64          `json:"total_tickets"`
	TicketPrice  uint64          `json:"ticket_price"`
	Proceeds     Token           `json:"proceeds"`
	Alternates   []PaymentOption `json:"alternates,omitempty"`
	Prizes       []Prize         `json:"prizes,omitempty"`
}

// DisplayAmount переводит целочисленную сумму в строку с десятичной точкой
// согласно точности валюты. Хвостовые нули дробной части отбрасываются.
func DisplayAmount(amount uint64, token Token) string {
	if token.Decimals == 0 {
		return strconv.FormatUint(amount, 10)
	}

	div := uint64(1)
	for i := uint8(0); i < token.Decimals && i < 19; i++ {
		div *= 10
	}

	whole := amount / div
	frac := amount % div
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}

	fracStr := strconv.FormatUint(frac, 10)
	for len(fracStr) < int(token.Decimals) {
		fracStr = "0" + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")

	return strconv.FormatUint(whole, 10) + "." + fracStr
}
