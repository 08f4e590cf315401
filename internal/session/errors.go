package session

import "errors"

// ErrPurchaseInFlight возвращается при попытке начать покупку до завершения предыдущей.
var (
	ErrPurchaseInFlight = errors.New("purchase already in flight")
	// ErrClaimInFlight возвращается, когда по этому призу уже отправляется транзакция.
	ErrClaimInFlight = errors.New("claim already in flight for this prize")
	// ErrPrizeDepleted возвращается при попытке получить приз с нулевым остатком.
	ErrPrizeDepleted = errors.New("prize has no remaining amount")
	// ErrUnknownPrize возвращается для индекса приза вне диапазона розыгрыша.
	ErrUnknownPrize = errors.New("unknown prize index")
	// ErrTicketFloor возвращается при попытке опустить количество билетов ниже единицы.
	ErrTicketFloor = errors.New("ticket count cannot go below one")
	// ErrTicketCap возвращается, когда достигнут предел количества билетов или участников.
	ErrTicketCap = errors.New("ticket limit reached")
	// ErrInsufficientFunds возвращается, когда средств на операцию не хватает.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnknownPaymentOption возвращается для минта, не принимаемого розыгрышем.
	ErrUnknownPaymentOption = errors.New("unknown payment option")
)
