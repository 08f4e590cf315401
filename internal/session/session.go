// Package session реализует оркестрацию покупки билетов и получения призов
// для подключённого кошелька: учёт балансов, проверку платёжеспособности,
// границы количества билетов и защиту от повторных отправок транзакций.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-session/internal/chain"
	"github.com/mmeshcher/raffle-session/internal/model"
	"github.com/mmeshcher/raffle-session/internal/notify"
	"github.com/mmeshcher/raffle-session/internal/pricing"
)

const (
	// MaxTicketAmount — жёсткий предел количества билетов в розыгрыше.
	MaxTicketAmount = 3000
	// MaxParticipants — глобальный предел числа участников розыгрыша.
	MaxParticipants = 5000

	// purchaseFeeFloor — минимальный нативный баланс для комиссии транзакции покупки.
	purchaseFeeFloor = 5

	pollInterval = 5 * time.Second
	// settleDelay — пауза после успешной покупки перед обновлением снимка розыгрыша.
	settleDelay = 500 * time.Millisecond
)

// BalanceProvider возвращает балансы счетов активного кошелька.
type BalanceProvider interface {
	NativeBalance(ctx context.Context, wallet string) (uint64, error)
	// TokenBalance возвращает nil, если токеновый счёт не существует.
	TokenBalance(ctx context.Context, wallet, mint string) (*uint64, error)
}

// RaffleProvider возвращает актуальный снимок розыгрыша.
type RaffleProvider interface {
	GetRaffle(ctx context.Context, address string) (*model.Raffle, error)
}

// TransactionSubmitter собирает и отправляет ончейн-транзакции покупки и
// получения приза.
type TransactionSubmitter interface {
	SubmitPurchase(ctx context.Context, req chain.PurchaseRequest) error
	SubmitClaim(ctx context.Context, req chain.ClaimRequest) error
}

// Session хранит изменяемое состояние покупки и получения призов одного
// кошелька. Все поля защищены общим мьютексом; блокировка никогда не
// удерживается через точки ожидания (запросы балансов, отправка транзакций).
type Session struct {
	mu sync.Mutex

	logger    *zap.Logger
	wallet    string
	balances  BalanceProvider
	raffles   RaffleProvider
	submitter TransactionSubmitter
	notifier  notify.Notifier

	raffle  *model.Raffle
	options map[string]model.PaymentOption
	payment model.PaymentOption

	// nativeBalance и tokenBalance заменяются целиком при каждом обновлении;
	// nil означает «ещё не загружен» (для tokenBalance — либо счёт не существует).
	nativeBalance *uint64
	tokenBalance  *uint64

	ticketCount     uint64
	purchaseOngoing bool
	claims          *ClaimGuard
}

// NewSession создаёт сессию для кошелька со снимком розыгрыша.
func NewSession(wallet string, raffle *model.Raffle, balances BalanceProvider, raffles RaffleProvider, submitter TransactionSubmitter, notifier notify.Notifier, logger *zap.Logger) *Session {
	s := &Session{
		logger:      logger,
		wallet:      wallet,
		balances:    balances,
		raffles:     raffles,
		submitter:   submitter,
		notifier:    notifier,
		ticketCount: 1,
		claims:      NewClaimGuard(),
	}
	s.setRaffleLocked(raffle)
	return s
}

// nativeOption строит вариант оплаты нативной валютой розыгрыша с курсом 1/1.
func nativeOption(r *model.Raffle) model.PaymentOption {
	return model.PaymentOption{Token: r.Proceeds, RateIn: 1, RateOut: 1}
}

func (s *Session) setRaffleLocked(r *model.Raffle) {
	s.raffle = r

	opts := map[string]model.PaymentOption{
		r.Proceeds.Mint: nativeOption(r),
	}
	for _, alt := range r.Alternates {
		if alt.RateOut == 0 {
			s.logger.Warn("payment option with zero rate skipped", zap.String("mint", alt.Token.Mint))
			continue
		}
		opts[alt.Token.Mint] = alt
	}
	s.options = opts

	// Выбранная валюта могла исчезнуть из нового снимка.
	cur, ok := opts[s.payment.Token.Mint]
	if !ok {
		cur = opts[r.Proceeds.Mint]
		s.tokenBalance = nil
	}
	s.payment = cur
}

// Wallet возвращает адрес кошелька сессии.
func (s *Session) Wallet() string {
	return s.wallet
}

// Raffle возвращает текущий снимок розыгрыша.
func (s *Session) Raffle() model.Raffle {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.raffle
}

// PaymentOptions возвращает принимаемые валюты платежа: нативную валюту
// розыгрыша, затем альтернативные в порядке снимка.
func (s *Session) PaymentOptions() []model.PaymentOption {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []model.PaymentOption{nativeOption(s.raffle)}
	for _, alt := range s.raffle.Alternates {
		if _, ok := s.options[alt.Token.Mint]; ok && alt.Token.Mint != s.raffle.Proceeds.Mint {
			result = append(result, alt)
		}
	}
	return result
}

// PaymentOption возвращает текущую валюту платежа.
func (s *Session) PaymentOption() model.PaymentOption {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.payment
}

// SelectPaymentOption переключает валюту платежа на указанный минт.
// Баланс прежней валюты не переносится: до следующего опроса он считается
// неизвестным, и покупка блокируется.
func (s *Session) SelectPaymentOption(mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opt, ok := s.options[mint]
	if !ok {
		return ErrUnknownPaymentOption
	}
	if opt.Token.Mint == s.payment.Token.Mint {
		return nil
	}

	s.payment = opt
	s.tokenBalance = nil
	s.clampTicketCountLocked()
	return nil
}

// Start запускает периодическое обновление нативного и токенового балансов.
// Каждое обновление выполняется немедленно и далее с фиксированным периодом
// до отмены контекста, владеющего сессией.
func (s *Session) Start(ctx context.Context) {
	go s.pollLoop(ctx, s.refreshNativeBalance)
	go s.pollLoop(ctx, s.refreshTokenBalance)
}

func (s *Session) pollLoop(ctx context.Context, refresh func(context.Context)) {
	refresh(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
		}
	}
}

func (s *Session) refreshNativeBalance(ctx context.Context) {
	amount, err := s.balances.NativeBalance(ctx, s.wallet)
	if err != nil {
		s.logger.Debug("native balance refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nativeBalance = &amount
	s.clampTicketCountLocked()
}

func (s *Session) refreshTokenBalance(ctx context.Context) {
	s.mu.Lock()
	mint := s.payment.Token.Mint
	s.mu.Unlock()

	amount, err := s.balances.TokenBalance(ctx, s.wallet, mint)
	if err != nil {
		s.logger.Debug("token balance refresh failed", zap.String("mint", mint), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Валюта платежа сменилась, пока шёл запрос: ответ устарел.
	if s.payment.Token.Mint != mint {
		return
	}
	s.tokenBalance = amount
	s.clampTicketCountLocked()
}

// paymentBalanceLocked возвращает действующий баланс валюты платежа.
// Для обёрнутой нативной валюты он выводится из нативного баланса:
// токеновый счёт может не существовать.
func (s *Session) paymentBalanceLocked() *uint64 {
	if s.payment.IsWrappedNative() {
		return s.nativeBalance
	}
	return s.tokenBalance
}

// PaymentBalance возвращает действующий баланс валюты платежа;
// nil — баланс ещё не известен.
func (s *Session) PaymentBalance() *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyAmount(s.paymentBalanceLocked())
}

// NativeBalance возвращает нативный баланс кошелька; nil — ещё не известен.
func (s *Session) NativeBalance() *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return copyAmount(s.nativeBalance)
}

func copyAmount(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	amount := *v
	return &amount
}

// FundsSufficient сообщает, хватает ли средств на покупку count билетов:
// известный баланс валюты платежа покрывает стоимость корзины, а известный
// нативный баланс — минимальную комиссию транзакции.
func (s *Session) FundsSufficient(count uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fundsSufficientLocked(count)
}

func (s *Session) fundsSufficientLocked(count uint64) bool {
	balance := s.paymentBalanceLocked()
	if balance == nil || s.nativeBalance == nil {
		return false
	}
	if *s.nativeBalance < purchaseFeeFloor {
		return false
	}
	return *balance >= pricing.BasketPrice(s.raffle.TicketPrice, count, s.payment)
}

// MaxAffordableTickets возвращает максимум билетов, доступный при текущем
// балансе; 0, пока баланс не известен.
func (s *Session) MaxAffordableTickets() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxAffordableLocked()
}

func (s *Session) maxAffordableLocked() uint64 {
	balance := s.paymentBalanceLocked()
	if balance == nil {
		return 0
	}
	return pricing.MaxAffordableTickets(*balance, s.payment, s.raffle.TicketPrice)
}

// capacityLocked — остаток вместимости розыгрыша.
func (s *Session) capacityLocked() uint64 {
	if s.raffle.TotalTickets >= MaxTicketAmount {
		return 0
	}
	return MaxTicketAmount - s.raffle.TotalTickets
}

// maxSettableLocked — верхняя граница количества билетов: минимум остатка
// вместимости и платёжеспособности.
func (s *Session) maxSettableLocked() uint64 {
	capacity := s.capacityLocked()
	affordable := s.maxAffordableLocked()
	if affordable < capacity {
		return affordable
	}
	return capacity
}

// clampTicketCountLocked явно понижает выбранное количество билетов, когда
// пересчитанная граница опускается ниже текущего значения. Понижение — это
// наблюдаемый переход состояния, а не побочный эффект чтения.
func (s *Session) clampTicketCountLocked() {
	upper := s.maxSettableLocked()
	if upper < 1 {
		upper = 1
	}
	if s.ticketCount > upper {
		s.logger.Info("ticket count reduced",
			zap.Uint64("from", s.ticketCount),
			zap.Uint64("to", upper))
		s.ticketCount = upper
	}
	if s.ticketCount < 1 {
		s.ticketCount = 1
	}
}

// TicketCount возвращает выбранное количество билетов.
func (s *Session) TicketCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ticketCount
}

// SetTicketCount устанавливает количество билетов, ограничивая значение
// диапазоном [1, min(вместимость, платёжеспособность)]. Нижняя граница
// всегда берёт верх. Возвращает применённое значение.
func (s *Session) SetTicketCount(count uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	upper := s.maxSettableLocked()
	if upper < 1 {
		upper = 1
	}
	if count > upper {
		count = upper
	}
	if count < 1 {
		count = 1
	}
	s.ticketCount = count
	return count
}

// SetMaxTicketCount устанавливает максимально допустимое количество билетов.
func (s *Session) SetMaxTicketCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	upper := s.maxSettableLocked()
	if upper < 1 {
		upper = 1
	}
	s.ticketCount = upper
	return upper
}

// IncrementTicketCount увеличивает количество билетов на один. Превышение
// вместимости, предела участников или платёжеспособности отклоняется с
// типизированной ошибкой, без молчаливого ограничения.
func (s *Session) IncrementTicketCount() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.ticketCount + 1
	if s.raffle.TotalTickets+s.ticketCount >= MaxParticipants {
		return s.ticketCount, ErrTicketCap
	}
	if next > s.capacityLocked() {
		return s.ticketCount, ErrTicketCap
	}
	if !s.fundsSufficientLocked(next) {
		return s.ticketCount, ErrInsufficientFunds
	}

	s.ticketCount = next
	return next, nil
}

// DecrementTicketCount уменьшает количество билетов на один; значение ниже
// единицы отклоняется.
func (s *Session) DecrementTicketCount() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticketCount <= 1 {
		return s.ticketCount, ErrTicketFloor
	}
	s.ticketCount--
	return s.ticketCount, nil
}

// Cost возвращает стоимость текущей корзины в валюте платежа.
func (s *Session) Cost() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return pricing.BasketPrice(s.raffle.TicketPrice, s.ticketCount, s.payment)
}

// SubmitPurchase отправляет транзакцию покупки выбранного количества билетов.
// Одновременно допускается не более одной покупки. Количество билетов
// сбрасывается к единице, а признак отправки снимается независимо от исхода.
func (s *Session) SubmitPurchase(ctx context.Context) error {
	s.mu.Lock()
	if s.purchaseOngoing {
		s.mu.Unlock()
		return ErrPurchaseInFlight
	}

	count := s.ticketCount
	if count < 1 {
		s.mu.Unlock()
		return ErrTicketFloor
	}
	if s.raffle.TotalTickets+count > MaxParticipants {
		s.mu.Unlock()
		return ErrTicketCap
	}
	if !s.fundsSufficientLocked(count) {
		s.mu.Unlock()
		return ErrInsufficientFunds
	}

	payment := s.payment
	payerAccountExists := s.tokenBalance != nil
	raffleAddress := s.raffle.Address
	s.purchaseOngoing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ticketCount = 1
		s.purchaseOngoing = false
		s.mu.Unlock()
	}()

	req := chain.PurchaseRequest{
		RaffleAddress:      raffleAddress,
		Buyer:              s.wallet,
		TicketCount:        count,
		PaymentMint:        payment.Token.Mint,
		PayerAccountExists: payerAccountExists,
		IdempotencyKey:     uuid.New().String(),
	}

	s.logger.Info("submitting purchase",
		zap.Uint64("tickets", count),
		zap.String("payment_mint", payment.Token.Mint),
		zap.String("idempotency_key", req.IdempotencyKey))

	if err := s.submitter.SubmitPurchase(ctx, req); err != nil {
		s.reportFailure(err)
		return fmt.Errorf("submit purchase: %w", err)
	}

	// Транзакция подтверждена, но снимок розыгрыша обновляется с задержкой.
	select {
	case <-ctx.Done():
	case <-time.After(settleDelay):
	}
	s.refreshRaffle(ctx)

	s.notifier.Success(fmt.Sprintf("You bought %d ticket(s)", count))
	return nil
}

// Claim отправляет транзакцию получения приза по индексу. Повторная отправка
// по тому же индексу блокируется до завершения текущей; призы с нулевым
// остатком получить нельзя. Транзакции по разным призам независимы.
func (s *Session) Claim(ctx context.Context, prizeIndex int, ticketIndex uint64) error {
	s.mu.Lock()
	if prizeIndex < 0 || prizeIndex >= len(s.raffle.Prizes) {
		s.mu.Unlock()
		return ErrUnknownPrize
	}
	prize := s.raffle.Prizes[prizeIndex]
	raffleAddress := s.raffle.Address
	s.mu.Unlock()

	if prize.Amount == 0 {
		return ErrPrizeDepleted
	}

	if !s.claims.TryAcquire(prizeIndex) {
		return ErrClaimInFlight
	}
	defer s.claims.Release(prizeIndex)

	req := chain.ClaimRequest{
		RaffleAddress:  raffleAddress,
		Claimant:       s.wallet,
		PrizeIndex:     prizeIndex,
		TicketIndex:    ticketIndex,
		IdempotencyKey: uuid.New().String(),
	}

	s.logger.Info("submitting claim",
		zap.Int("prize_index", prizeIndex),
		zap.Uint64("ticket_index", ticketIndex),
		zap.String("idempotency_key", req.IdempotencyKey))

	if err := s.submitter.SubmitClaim(ctx, req); err != nil {
		s.reportFailure(err)
		return fmt.Errorf("submit claim: %w", err)
	}

	s.notifier.Success(fmt.Sprintf("Prize %d claimed", prizeIndex+1))
	return nil
}

// ClaimInFlight сообщает, отправляется ли сейчас транзакция по призу.
func (s *Session) ClaimInFlight(prizeIndex int) bool {
	return s.claims.InFlight(prizeIndex)
}

func (s *Session) reportFailure(err error) {
	var submitErr *chain.SubmitError
	if errors.As(err, &submitErr) {
		s.notifier.Error("Transaction failed: " + submitErr.Message)
		return
	}
	s.notifier.Error("Unexpected error")
}

// refreshRaffle запрашивает свежий снимок розыгрыша и заменяет текущий.
func (s *Session) refreshRaffle(ctx context.Context) {
	raffle, err := s.raffles.GetRaffle(ctx, s.Raffle().Address)
	if err != nil {
		s.logger.Warn("raffle refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setRaffleLocked(raffle)
	s.clampTicketCountLocked()
}

// State — снимок состояния сессии для уровня отображения. Все поля —
// производные текущего состояния; их вычисление не имеет побочных эффектов.
type State struct {
	Wallet                string  `json:"wallet"`
	TicketCount           uint64  `json:"ticket_count"`
	MaxTickets            uint64  `json:"max_tickets"`
	Cost                  uint64  `json:"cost"`
	CostDisplay           string  `json:"cost_display"`
	PaymentMint           string  `json:"payment_mint"`
	PaymentSymbol         string  `json:"payment_symbol"`
	PaymentBalance        *uint64 `json:"payment_balance,omitempty"`
	PaymentBalanceDisplay string  `json:"payment_balance_display"`
	NativeBalance         *uint64 `json:"native_balance,omitempty"`
	FundsSufficient       bool    `json:"funds_sufficient"`
	CanIncrement          bool    `json:"can_increment"`
	CanDecrement          bool    `json:"can_decrement"`
	CanPurchase           bool    `json:"can_purchase"`
	PurchaseOngoing       bool    `json:"purchase_ongoing"`
	ClaimsInFlight        []int   `json:"claims_in_flight,omitempty"`
}

// State возвращает снимок состояния сессии.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cost := pricing.BasketPrice(s.raffle.TicketPrice, s.ticketCount, s.payment)
	balance := s.paymentBalanceLocked()

	balanceDisplay := "0"
	if balance != nil {
		balanceDisplay = model.DisplayAmount(*balance, s.payment.Token)
	}

	next := s.ticketCount + 1
	canIncrement := s.raffle.TotalTickets+s.ticketCount < MaxParticipants &&
		next <= s.capacityLocked() &&
		s.fundsSufficientLocked(next)

	canPurchase := !s.purchaseOngoing &&
		s.ticketCount >= 1 &&
		s.raffle.TotalTickets+s.ticketCount <= MaxParticipants &&
		s.fundsSufficientLocked(s.ticketCount)

	return State{
		Wallet:                s.wallet,
		TicketCount:           s.ticketCount,
		MaxTickets:            s.maxSettableLocked(),
		Cost:                  cost,
		CostDisplay:           model.DisplayAmount(cost, s.payment.Token),
		PaymentMint:           s.payment.Token.Mint,
		PaymentSymbol:         s.payment.Token.Symbol,
		PaymentBalance:        copyAmount(balance),
		PaymentBalanceDisplay: balanceDisplay,
		NativeBalance:         copyAmount(s.nativeBalance),
		FundsSufficient:       s.fundsSufficientLocked(s.ticketCount),
		CanIncrement:          canIncrement,
		CanDecrement:          s.ticketCount > 1,
		CanPurchase:           canPurchase,
		PurchaseOngoing:       s.purchaseOngoing,
		ClaimsInFlight:        s.claims.Active(),
	}
}
