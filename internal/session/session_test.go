package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-session/internal/chain"
	"github.com/mmeshcher/raffle-session/internal/model"
)

const (
	testWallet   = "BuyerWa11etAddre55AAAAAAAAAAAAAAAAAAAAAAAAA"
	proceedsMint = "Proceed5MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	altMint      = "A1ternateMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	prizeMint    = "PrizeMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

type stubBalances struct {
	mu          sync.Mutex
	native      uint64
	nativeErr   error
	token       *uint64
	tokenErr    error
	nativeCalls int
	tokenCalls  int
}

func (s *stubBalances) NativeBalance(ctx context.Context, wallet string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nativeCalls++
	return s.native, s.nativeErr
}

func (s *stubBalances) TokenBalance(ctx context.Context, wallet, mint string) (*uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenCalls++
	if s.token == nil {
		return nil, s.tokenErr
	}
	amount := *s.token
	return &amount, s.tokenErr
}

func (s *stubBalances) setToken(amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &amount
}

func (s *stubBalances) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeCalls, s.tokenCalls
}

type stubRaffles struct {
	mu     sync.Mutex
	raffle *model.Raffle
	err    error
	calls  int
}

func (s *stubRaffles) GetRaffle(ctx context.Context, address string) (*model.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	raffle := *s.raffle
	return &raffle, nil
}

type stubSubmitter struct {
	mu        sync.Mutex
	purchases []chain.PurchaseRequest
	claims    []chain.ClaimRequest

	purchaseErr error
	claimErr    error

	// claimStarted и claimRelease позволяют удерживать отправку
	// транзакции получения приза в полёте.
	claimStarted chan int
	claimRelease chan struct{}
}

func (s *stubSubmitter) SubmitPurchase(ctx context.Context, req chain.PurchaseRequest) error {
	s.mu.Lock()
	s.purchases = append(s.purchases, req)
	s.mu.Unlock()
	return s.purchaseErr
}

func (s *stubSubmitter) SubmitClaim(ctx context.Context, req chain.ClaimRequest) error {
	if s.claimStarted != nil {
		s.claimStarted <- req.PrizeIndex
	}
	if s.claimRelease != nil {
		<-s.claimRelease
	}
	s.mu.Lock()
	s.claims = append(s.claims, req)
	s.mu.Unlock()
	return s.claimErr
}

func (s *stubSubmitter) purchaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.purchases)
}

type stubNotifier struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (s *stubNotifier) Success(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes = append(s.successes, text)
}

func (s *stubNotifier) Error(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, text)
}

func (s *stubNotifier) lastFailure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return ""
	}
	return s.failures[len(s.failures)-1]
}

func (s *stubNotifier) lastSuccess() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.successes) == 0 {
		return ""
	}
	return s.successes[len(s.successes)-1]
}

func testRaffle() *model.Raffle {
	return &model.Raffle{
		Address:      "Raff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		TotalTickets: 150,
		TicketPrice:  10,
		Proceeds:     model.Token{Mint: proceedsMint, Symbol: "TKT", Decimals: 6},
		Alternates: []model.PaymentOption{
			{Token: model.Token{Mint: altMint, Symbol: "ALT", Decimals: 6}, RateIn: 2, RateOut: 3},
			{Token: model.Token{Mint: model.WrappedNativeMint, Symbol: "SOL", Decimals: 9}, RateIn: 1, RateOut: 1},
		},
		Prizes: []model.Prize{
			{Token: model.Token{Mint: prizeMint}, Amount: 1},
			{Token: model.Token{Mint: prizeMint}, Amount: 0},
			{Token: model.Token{Mint: prizeMint}, Amount: 3},
			{Token: model.Token{Mint: prizeMint}, Amount: 1},
			{Token: model.Token{Mint: prizeMint}, Amount: 1},
			{Token: model.Token{Mint: prizeMint}, Amount: 2},
		},
	}
}

type testEnv struct {
	session   *Session
	balances  *stubBalances
	raffles   *stubRaffles
	submitter *stubSubmitter
	notifier  *stubNotifier
}

func newTestEnv(t *testing.T, raffle *model.Raffle) *testEnv {
	t.Helper()

	env := &testEnv{
		balances:  &stubBalances{},
		raffles:   &stubRaffles{raffle: raffle},
		submitter: &stubSubmitter{},
		notifier:  &stubNotifier{},
	}
	env.session = NewSession(testWallet, raffle, env.balances, env.raffles, env.submitter, env.notifier, zap.NewNop())
	return env
}

// refresh прогоняет по одному обновлению каждого баланса.
func (e *testEnv) refresh(t *testing.T) {
	t.Helper()
	e.session.refreshNativeBalance(context.Background())
	e.session.refreshTokenBalance(context.Background())
}

func TestFundsSufficient_Walkthrough(t *testing.T) {
	// Цена билета 10, курс 1/1, баланс 105, минимальная комиссия 5.
	env := newTestEnv(t, testRaffle())
	env.balances.native = 105
	env.balances.setToken(105)
	env.refresh(t)

	if got := env.session.Cost(); got != 10 {
		t.Fatalf("Cost() = %d, want 10", got)
	}
	if !env.session.FundsSufficient(1) {
		t.Fatalf("FundsSufficient(1) = false, want true")
	}
	if got := env.session.MaxAffordableTickets(); got != 10 {
		t.Fatalf("MaxAffordableTickets() = %d, want 10", got)
	}
}

func TestFundsSufficient_UnknownBalances(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	if env.session.FundsSufficient(1) {
		t.Fatalf("funds must be insufficient while balances are unknown")
	}
	if got := env.session.MaxAffordableTickets(); got != 0 {
		t.Fatalf("MaxAffordableTickets() = %d, want 0 for unknown balance", got)
	}
	if env.session.State().CanPurchase {
		t.Fatalf("purchase must be disabled while balances are unknown")
	}
}

func TestFundsSufficient_FeeFloor(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 4
	env.balances.setToken(1000)
	env.refresh(t)

	if env.session.FundsSufficient(1) {
		t.Fatalf("native balance below fee floor must disable purchase")
	}
}

func TestSetTicketCount_HardCapNearlySoldOut(t *testing.T) {
	raffle := testRaffle()
	raffle.TotalTickets = 2999

	t.Run("with plenty of balance", func(t *testing.T) {
		env := newTestEnv(t, raffle)
		env.balances.native = 1000000
		env.balances.setToken(1000000)
		env.refresh(t)

		if got := env.session.SetTicketCount(50); got != 1 {
			t.Fatalf("SetTicketCount(50) = %d, want 1", got)
		}
	})

	t.Run("with unknown balance", func(t *testing.T) {
		env := newTestEnv(t, raffle)

		if got := env.session.SetTicketCount(50); got != 1 {
			t.Fatalf("SetTicketCount(50) = %d, want 1", got)
		}
	})
}

func TestSetTicketCount_Clamps(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000) // хватает на 100 билетов
	env.refresh(t)

	if got := env.session.SetTicketCount(40); got != 40 {
		t.Fatalf("SetTicketCount(40) = %d, want 40", got)
	}
	if got := env.session.SetTicketCount(500); got != 100 {
		t.Fatalf("SetTicketCount(500) = %d, want clamp to 100", got)
	}
	if got := env.session.SetTicketCount(0); got != 1 {
		t.Fatalf("SetTicketCount(0) = %d, want clamp to 1", got)
	}
}

func TestSetMaxTicketCount(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(250)
	env.refresh(t)

	if got := env.session.SetMaxTicketCount(); got != 25 {
		t.Fatalf("SetMaxTicketCount() = %d, want 25", got)
	}
}

func TestDecrementTicketCount_Floor(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	got, err := env.session.DecrementTicketCount()
	if !errors.Is(err, ErrTicketFloor) {
		t.Fatalf("expected ErrTicketFloor, got %v", err)
	}
	if got != 1 {
		t.Fatalf("count after rejected decrement = %d, want 1", got)
	}
}

func TestIncrementTicketCount(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(25) // хватает ровно на 2 билета
	env.refresh(t)

	got, err := env.session.IncrementTicketCount()
	if err != nil {
		t.Fatalf("IncrementTicketCount error: %v", err)
	}
	if got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	_, err = env.session.IncrementTicketCount()
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for third ticket, got %v", err)
	}
	if got := env.session.TicketCount(); got != 2 {
		t.Fatalf("rejected increment must not change count, got %d", got)
	}
}

func TestIncrementTicketCount_Capacity(t *testing.T) {
	raffle := testRaffle()
	raffle.TotalTickets = 2999

	env := newTestEnv(t, raffle)
	env.balances.native = 1000000
	env.balances.setToken(1000000)
	env.refresh(t)

	_, err := env.session.IncrementTicketCount()
	if !errors.Is(err, ErrTicketCap) {
		t.Fatalf("expected ErrTicketCap at remaining capacity 1, got %v", err)
	}
}

func TestIncrementTicketCount_ParticipantCap(t *testing.T) {
	raffle := testRaffle()
	raffle.TotalTickets = MaxParticipants - 1

	env := newTestEnv(t, raffle)
	env.balances.native = 1000000
	env.balances.setToken(1000000)
	env.refresh(t)

	_, err := env.session.IncrementTicketCount()
	if !errors.Is(err, ErrTicketCap) {
		t.Fatalf("expected ErrTicketCap at participant cap, got %v", err)
	}
}

func TestBalanceDropClampsTicketCount(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	if got := env.session.SetTicketCount(100); got != 100 {
		t.Fatalf("SetTicketCount(100) = %d, want 100", got)
	}

	// Баланс упал между опросами: снижение применяется явно при обновлении.
	env.balances.setToken(25)
	env.session.refreshTokenBalance(context.Background())

	if got := env.session.TicketCount(); got != 2 {
		t.Fatalf("count after balance drop = %d, want 2", got)
	}
}

func TestSelectPaymentOption(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	if err := env.session.SelectPaymentOption("UnknownMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrUnknownPaymentOption) {
		t.Fatalf("expected ErrUnknownPaymentOption, got %v", err)
	}

	if err := env.session.SelectPaymentOption(altMint); err != nil {
		t.Fatalf("SelectPaymentOption error: %v", err)
	}

	// Баланс прежней валюты не переносится на новую.
	if got := env.session.PaymentBalance(); got != nil {
		t.Fatalf("payment balance after switch = %v, want unknown", *got)
	}
	if env.session.FundsSufficient(1) {
		t.Fatalf("purchase must be disabled until the new balance is polled")
	}

	env.balances.setToken(100)
	env.session.refreshTokenBalance(context.Background())

	// Цена 10, курс 2/3: корзина 10×2/3 = 6, максимум 100×3/2/10 = 15.
	if got := env.session.Cost(); got != 6 {
		t.Fatalf("Cost() = %d, want 6", got)
	}
	if got := env.session.MaxAffordableTickets(); got != 15 {
		t.Fatalf("MaxAffordableTickets() = %d, want 15", got)
	}
}

func TestWrappedNativeBalanceDerived(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 105
	env.session.refreshNativeBalance(context.Background())

	if err := env.session.SelectPaymentOption(model.WrappedNativeMint); err != nil {
		t.Fatalf("SelectPaymentOption error: %v", err)
	}

	// Токеновый счёт не опрошен, но баланс выводится из нативного.
	got := env.session.PaymentBalance()
	if got == nil || *got != 105 {
		t.Fatalf("payment balance = %v, want 105 derived from native", got)
	}
	if !env.session.FundsSufficient(1) {
		t.Fatalf("FundsSufficient(1) = false, want true for wrapped native")
	}
}

func TestSubmitPurchase_Success(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	updated := *env.raffles.raffle
	updated.TotalTickets = 153
	env.raffles.raffle = &updated

	env.session.SetTicketCount(3)

	if err := env.session.SubmitPurchase(context.Background()); err != nil {
		t.Fatalf("SubmitPurchase error: %v", err)
	}

	if env.submitter.purchaseCount() != 1 {
		t.Fatalf("purchases = %d, want 1", env.submitter.purchaseCount())
	}
	req := env.submitter.purchases[0]
	if req.TicketCount != 3 || req.Buyer != testWallet || !req.PayerAccountExists {
		t.Fatalf("unexpected purchase request: %+v", req)
	}
	if req.IdempotencyKey == "" {
		t.Fatalf("idempotency key missing")
	}

	if got := env.notifier.lastSuccess(); got != "You bought 3 ticket(s)" {
		t.Fatalf("success notification = %q", got)
	}
	if got := env.session.TicketCount(); got != 1 {
		t.Fatalf("count after purchase = %d, want reset to 1", got)
	}
	if got := env.session.Raffle().TotalTickets; got != 153 {
		t.Fatalf("raffle snapshot not refreshed: total = %d, want 153", got)
	}
}

func TestSubmitPurchase_FailureWithMessage(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	env.session.SetTicketCount(5)
	env.submitter.purchaseErr = &chain.SubmitError{Message: "slippage exceeded"}

	err := env.session.SubmitPurchase(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}

	failure := env.notifier.lastFailure()
	if !strings.Contains(failure, "slippage exceeded") {
		t.Fatalf("error notification %q must contain the gateway message", failure)
	}
	if got := env.session.TicketCount(); got != 1 {
		t.Fatalf("count after failed purchase = %d, want reset to 1", got)
	}
	if env.session.State().PurchaseOngoing {
		t.Fatalf("submitting flag must be cleared after failure")
	}
}

func TestSubmitPurchase_FailureGeneric(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	env.submitter.purchaseErr = fmt.Errorf("connection reset")

	if err := env.session.SubmitPurchase(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if got := env.notifier.lastFailure(); got != "Unexpected error" {
		t.Fatalf("generic failure notification = %q, want %q", got, "Unexpected error")
	}
}

func TestSubmitPurchase_RejectsWhileOngoing(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.balances.native = 1000
	env.balances.setToken(1000)
	env.refresh(t)

	env.session.mu.Lock()
	env.session.purchaseOngoing = true
	env.session.mu.Unlock()

	if err := env.session.SubmitPurchase(context.Background()); !errors.Is(err, ErrPurchaseInFlight) {
		t.Fatalf("expected ErrPurchaseInFlight, got %v", err)
	}
	if env.submitter.purchaseCount() != 0 {
		t.Fatalf("submitter must not be called while a purchase is in flight")
	}
}

func TestSubmitPurchase_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	if err := env.session.SubmitPurchase(context.Background()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if env.submitter.purchaseCount() != 0 {
		t.Fatalf("submitter must not be called without funds")
	}
}

func TestClaim_DepletedPrize(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	if err := env.session.Claim(context.Background(), 1, 7); !errors.Is(err, ErrPrizeDepleted) {
		t.Fatalf("expected ErrPrizeDepleted, got %v", err)
	}
	if env.session.ClaimInFlight(1) {
		t.Fatalf("guard must never be set for a depleted prize")
	}
}

func TestClaim_UnknownIndex(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	if err := env.session.Claim(context.Background(), 42, 0); !errors.Is(err, ErrUnknownPrize) {
		t.Fatalf("expected ErrUnknownPrize, got %v", err)
	}
	if err := env.session.Claim(context.Background(), -1, 0); !errors.Is(err, ErrUnknownPrize) {
		t.Fatalf("expected ErrUnknownPrize for negative index, got %v", err)
	}
}

func TestClaim_Success(t *testing.T) {
	env := newTestEnv(t, testRaffle())

	if err := env.session.Claim(context.Background(), 2, 17); err != nil {
		t.Fatalf("Claim error: %v", err)
	}

	if len(env.submitter.claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(env.submitter.claims))
	}
	req := env.submitter.claims[0]
	if req.PrizeIndex != 2 || req.TicketIndex != 17 || req.Claimant != testWallet {
		t.Fatalf("unexpected claim request: %+v", req)
	}
	if got := env.notifier.lastSuccess(); got != "Prize 3 claimed" {
		t.Fatalf("success notification = %q", got)
	}
	if env.session.ClaimInFlight(2) {
		t.Fatalf("guard must be released after the transaction settles")
	}
}

func TestClaim_GuardClearsOnFailure(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.submitter.claimErr = &chain.SubmitError{Message: "prize vault empty"}

	if err := env.session.Claim(context.Background(), 0, 1); err == nil {
		t.Fatalf("expected error")
	}
	if env.session.ClaimInFlight(0) {
		t.Fatalf("guard must be released after a failed claim")
	}
	if !strings.Contains(env.notifier.lastFailure(), "prize vault empty") {
		t.Fatalf("failure notification missing gateway message: %q", env.notifier.lastFailure())
	}
}

func TestClaim_ConcurrentIndicesIndependent(t *testing.T) {
	env := newTestEnv(t, testRaffle())
	env.submitter.claimStarted = make(chan int, 2)
	env.submitter.claimRelease = make(chan struct{})

	errs := make(chan error, 2)
	go func() { errs <- env.session.Claim(context.Background(), 2, 1) }()
	go func() { errs <- env.session.Claim(context.Background(), 5, 9) }()

	// Обе отправки должны начаться, не дожидаясь друг друга.
	started := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case idx := <-env.submitter.claimStarted:
			started[idx] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("claims did not start concurrently, started: %v", started)
		}
	}
	if !started[2] || !started[5] {
		t.Fatalf("expected claims for indices 2 and 5, started: %v", started)
	}

	// Пока транзакция по индексу 2 в полёте, повторная отправка отклоняется.
	if err := env.session.Claim(context.Background(), 2, 1); !errors.Is(err, ErrClaimInFlight) {
		t.Fatalf("expected ErrClaimInFlight, got %v", err)
	}

	close(env.submitter.claimRelease)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("claim error: %v", err)
		}
	}

	if env.session.ClaimInFlight(2) || env.session.ClaimInFlight(5) {
		t.Fatalf("guards must clear after both transactions settle")
	}
}

func TestManager_ConnectStartsPolling(t *testing.T) {
	balances := &stubBalances{native: 105}
	raffles := &stubRaffles{raffle: testRaffle()}
	m := NewManager(zap.NewNop(), raffles.raffle.Address, balances, raffles, &stubSubmitter{}, &stubNotifier{})
	defer m.Close()

	s, err := m.Connect(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	again, err := m.Connect(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	if again != s {
		t.Fatalf("reconnect must return the existing session")
	}

	// Первый опрос выполняется сразу после подключения.
	deadline := time.Now().Add(2 * time.Second)
	for {
		nativeCalls, tokenCalls := balances.calls()
		if nativeCalls >= 1 && tokenCalls >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("polling did not start: native=%d token=%d", nativeCalls, tokenCalls)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := m.Get(testWallet); !ok {
		t.Fatalf("session must be retrievable while connected")
	}
}

func TestManager_Disconnect(t *testing.T) {
	balances := &stubBalances{native: 105}
	raffles := &stubRaffles{raffle: testRaffle()}
	m := NewManager(zap.NewNop(), raffles.raffle.Address, balances, raffles, &stubSubmitter{}, &stubNotifier{})
	defer m.Close()

	if _, err := m.Connect(context.Background(), testWallet); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if !m.Disconnect(testWallet) {
		t.Fatalf("Disconnect must report an existing session")
	}
	if m.Disconnect(testWallet) {
		t.Fatalf("second Disconnect must report no session")
	}
	if _, ok := m.Get(testWallet); ok {
		t.Fatalf("session must be gone after disconnect")
	}
}

func TestManager_ConnectFailsWhenRaffleUnavailable(t *testing.T) {
	raffles := &stubRaffles{err: fmt.Errorf("gateway down")}
	m := NewManager(zap.NewNop(), "Raff1eAddre55AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", &stubBalances{}, raffles, &stubSubmitter{}, &stubNotifier{})
	defer m.Close()

	if _, err := m.Connect(context.Background(), testWallet); err == nil {
		t.Fatalf("expected error when the raffle snapshot is unavailable")
	}
	if _, ok := m.Get(testWallet); ok {
		t.Fatalf("failed connect must not leave a session behind")
	}
}
