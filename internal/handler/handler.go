// Package handler содержит HTTP-обработчики локального моста сессий розыгрыша.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/raffle-session/internal/chain"
	"github.com/mmeshcher/raffle-session/internal/middleware"
	"github.com/mmeshcher/raffle-session/internal/session"
	"github.com/mmeshcher/raffle-session/internal/validation"
)

// SessionManager определяет контракт управления сессиями кошельков,
// используемый HTTP-обработчиками.
type SessionManager interface {
	Connect(ctx context.Context, wallet string) (*session.Session, error)
	Disconnect(wallet string) bool
	Get(wallet string) (*session.Session, bool)
}

// Handler реализует HTTP-обработчики локального моста сессий.
type Handler struct {
	sessions SessionManager
	logger   *zap.Logger
	wallets  *middleware.WalletMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(sessions SessionManager, logger *zap.Logger, wallets *middleware.WalletMiddleware) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
		wallets:  wallets,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// sessionFromRequest достаёт сессию подключённого кошелька из контекста запроса.
func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	wallet, ok := middleware.GetWalletFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	s, ok := h.sessions.Get(wallet)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}
	return s, true
}

type connectRequest struct {
	Wallet string `json:"wallet"`
}

// Connect подключает кошелёк: создаёт сессию и устанавливает cookie.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidWalletAddress(req.Wallet) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	s, err := h.sessions.Connect(r.Context(), req.Wallet)
	if err != nil {
		h.logger.Error("connect wallet error", zap.Error(err), zap.String("wallet", req.Wallet))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.wallets.SetWalletCookie(w, req.Wallet)
	h.writeJSON(w, s.State())
}

// Disconnect отключает кошелёк и сбрасывает cookie сессии.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	wallet, ok := middleware.GetWalletFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.sessions.Disconnect(wallet)
	h.wallets.ClearWalletCookie(w)
	w.WriteHeader(http.StatusOK)
}

// GetRaffle возвращает текущий снимок розыгрыша.
func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, s.Raffle())
}

// GetState возвращает снимок состояния сессии для уровня отображения.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, s.State())
}

// GetPaymentOptions возвращает принимаемые валюты платежа.
func (h *Handler) GetPaymentOptions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, s.PaymentOptions())
}

type selectPaymentRequest struct {
	Mint string `json:"mint"`
}

// SelectPayment переключает валюту платежа сессии.
func (h *Handler) SelectPayment(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req selectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := s.SelectPaymentOption(req.Mint); err != nil {
		if errors.Is(err, session.ErrUnknownPaymentOption) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("select payment error", zap.Error(err), zap.String("mint", req.Mint))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, s.State())
}

type setTicketsRequest struct {
	Count uint64 `json:"count"`
}

// SetTickets устанавливает количество билетов; значение вне допустимого
// диапазона молча приводится к границе.
func (h *Handler) SetTickets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req setTicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	s.SetTicketCount(req.Count)
	h.writeJSON(w, s.State())
}

// IncrementTickets увеличивает количество билетов на один.
func (h *Handler) IncrementTickets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if _, err := s.IncrementTicketCount(); err != nil {
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		return
	}

	h.writeJSON(w, s.State())
}

// DecrementTickets уменьшает количество билетов на один.
func (h *Handler) DecrementTickets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if _, err := s.DecrementTicketCount(); err != nil {
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		return
	}

	h.writeJSON(w, s.State())
}

// MaxTickets устанавливает максимально допустимое количество билетов.
func (h *Handler) MaxTickets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	s.SetMaxTicketCount()
	h.writeJSON(w, s.State())
}

// Purchase отправляет транзакцию покупки выбранного количества билетов.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.SubmitPurchase(r.Context()); err != nil {
		switch {
		case errors.Is(err, session.ErrPurchaseInFlight),
			errors.Is(err, session.ErrInsufficientFunds),
			errors.Is(err, session.ErrTicketCap),
			errors.Is(err, session.ErrTicketFloor):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			var submitErr *chain.SubmitError
			if errors.As(err, &submitErr) {
				http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				return
			}
			h.logger.Error("purchase error", zap.Error(err), zap.String("wallet", s.Wallet()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, s.State())
}

type claimRequest struct {
	PrizeIndex  int    `json:"prize_index"`
	TicketIndex uint64 `json:"ticket_index"`
}

// Claim отправляет транзакцию получения приза по индексу.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := s.Claim(r.Context(), req.PrizeIndex, req.TicketIndex); err != nil {
		switch {
		case errors.Is(err, session.ErrUnknownPrize):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, session.ErrPrizeDepleted), errors.Is(err, session.ErrClaimInFlight):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			var submitErr *chain.SubmitError
			if errors.As(err, &submitErr) {
				http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
				return
			}
			h.logger.Error("claim error", zap.Error(err), zap.Int("prize_index", req.PrizeIndex))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, s.State())
}
