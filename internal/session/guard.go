package session

import (
	"sort"
	"sync"
)

// ClaimGuard отслеживает транзакции получения призов, находящиеся в полёте.
// Для каждого индекса приза единовременно допускается не более одной
// транзакции; отсутствующий в карте индекс означает «отправка не ведётся».
// Пометка снимается безусловно после завершения транзакции, независимо от
// её исхода.
type ClaimGuard struct {
	mu       sync.Mutex
	inFlight map[int]bool
}

// NewClaimGuard создаёт пустой учёт отправляемых транзакций.
func NewClaimGuard() *ClaimGuard {
	return &ClaimGuard{
		inFlight: make(map[int]bool),
	}
}

// TryAcquire помечает приз как находящийся в процессе получения.
// Возвращает false, если по этому индексу отправка уже идёт.
func (g *ClaimGuard) TryAcquire(prizeIndex int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[prizeIndex] {
		return false
	}
	g.inFlight[prizeIndex] = true
	return true
}

// Release снимает пометку с приза.
func (g *ClaimGuard) Release(prizeIndex int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, prizeIndex)
}

// InFlight сообщает, отправляется ли сейчас транзакция по указанному призу.
func (g *ClaimGuard) InFlight(prizeIndex int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inFlight[prizeIndex]
}

// Active возвращает отсортированные индексы призов с транзакциями в полёте.
func (g *ClaimGuard) Active() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.inFlight) == 0 {
		return nil
	}

	indices := make([]int, 0, len(g.inFlight))
	for i := range g.inFlight {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}
