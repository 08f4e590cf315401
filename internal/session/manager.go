package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-session/internal/notify"
)

// Manager владеет сессиями подключённых кошельков и их жизненным циклом:
// подключение создаёт сессию и запускает опрос балансов, отключение
// гарантированно останавливает опрос.
type Manager struct {
	mu sync.Mutex

	logger        *zap.Logger
	raffleAddress string
	balances      BalanceProvider
	raffles       RaffleProvider
	submitter     TransactionSubmitter
	notifier      notify.Notifier

	root     context.Context
	stop     context.CancelFunc
	sessions map[string]*managedSession
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
}

// NewManager создаёт менеджер сессий для указанного розыгрыша.
func NewManager(logger *zap.Logger, raffleAddress string, balances BalanceProvider, raffles RaffleProvider, submitter TransactionSubmitter, notifier notify.Notifier) *Manager {
	root, stop := context.WithCancel(context.Background())

	return &Manager{
		logger:        logger,
		raffleAddress: raffleAddress,
		balances:      balances,
		raffles:       raffles,
		submitter:     submitter,
		notifier:      notifier,
		root:          root,
		stop:          stop,
		sessions:      make(map[string]*managedSession),
	}
}

// Connect создаёт сессию для кошелька и запускает опрос балансов.
// Повторное подключение возвращает существующую сессию.
func (m *Manager) Connect(ctx context.Context, wallet string) (*Session, error) {
	m.mu.Lock()
	if ms, ok := m.sessions[wallet]; ok {
		m.mu.Unlock()
		return ms.session, nil
	}
	m.mu.Unlock()

	raffle, err := m.raffles.GetRaffle(ctx, m.raffleAddress)
	if err != nil {
		return nil, fmt.Errorf("fetch raffle: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Два одновременных подключения одного кошелька: победил первый.
	if ms, ok := m.sessions[wallet]; ok {
		return ms.session, nil
	}

	s := NewSession(wallet, raffle, m.balances, m.raffles, m.submitter, m.notifier,
		m.logger.With(zap.String("wallet", wallet)))

	sessionCtx, cancel := context.WithCancel(m.root)
	s.Start(sessionCtx)

	m.sessions[wallet] = &managedSession{session: s, cancel: cancel}
	m.logger.Info("wallet connected", zap.String("wallet", wallet))

	return s, nil
}

// Disconnect завершает сессию кошелька и останавливает опрос балансов.
// Возвращает false, если сессии не было.
func (m *Manager) Disconnect(wallet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[wallet]
	if !ok {
		return false
	}

	ms.cancel()
	delete(m.sessions, wallet)
	m.logger.Info("wallet disconnected", zap.String("wallet", wallet))
	return true
}

// Get возвращает сессию подключённого кошелька.
func (m *Manager) Get(wallet string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[wallet]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// Close завершает все сессии и останавливает их опрос балансов.
func (m *Manager) Close() {
	m.stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for wallet, ms := range m.sessions {
		ms.cancel()
		delete(m.sessions, wallet)
	}
}
