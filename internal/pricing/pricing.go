// Package pricing содержит чистые функции расчёта стоимости билетов.
package pricing

import "github.com/mmeshcher/raffle-session/internal/model"

// BasketPrice возвращает стоимость count билетов в валюте платежа:
// ticketPrice × count × RateIn / RateOut. Деление целочисленное с
// округлением к нулю — дробные суммы в ончейн-расчётах недопустимы.
// Нулевой RateOut нарушает инвариант валюты платежа; в этом случае
// возвращается 0.
func BasketPrice(ticketPrice, count uint64, opt model.PaymentOption) uint64 {
	if opt.RateOut == 0 {
		return 0
	}
	return ticketPrice * count * opt.RateIn / opt.RateOut
}

// MaxAffordableTickets возвращает максимальное количество билетов,
// доступное при указанном балансе: balance × RateOut / RateIn / ticketPrice.
// Каждое деление усечённое, поэтому порядок операций важен и результат не
// эквивалентен одному делению с плавающей точкой.
func MaxAffordableTickets(balance uint64, opt model.PaymentOption, ticketPrice uint64) uint64 {
	if ticketPrice == 0 || opt.RateIn == 0 {
		return 0
	}
	return balance * opt.RateOut / opt.RateIn / ticketPrice
}
