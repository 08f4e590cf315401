// Package chain предоставляет клиент шлюза кошелька: запросы балансов,
// снимка розыгрыша и отправку транзакций покупки и получения приза.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/raffle-session/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие со шлюзом кошелька.
type Client struct {
	baseURL string
	// Запросы чтения безопасно повторять при сетевых сбоях.
	reader *retryablehttp.Client
	// Транзакции никогда не повторяются автоматически.
	sender *http.Client
}

// SubmitError — отказ шлюза с человекочитаемым сообщением. Остальные сбои
// отправки остаются обычными ошибками и показываются обобщённо.
type SubmitError struct {
	Message string
}

func (e *SubmitError) Error() string {
	return e.Message
}

// PurchaseRequest описывает транзакцию покупки билетов.
type PurchaseRequest struct {
	RaffleAddress string `json:"raffle"`
	Buyer         string `json:"buyer"`
	TicketCount   uint64 `json:"ticket_count"`
	PaymentMint   string `json:"payment_mint"`
	// PayerAccountExists сообщает шлюзу, существует ли токеновый счёт
	// плательщика: для обёрнутой нативной валюты шлюз создаёт его сам.
	PayerAccountExists bool   `json:"payer_account_exists"`
	IdempotencyKey     string `json:"idempotency_key"`
}

// ClaimRequest описывает транзакцию получения приза.
type ClaimRequest struct {
	RaffleAddress  string `json:"raffle"`
	Claimant       string `json:"claimant"`
	PrizeIndex     int    `json:"prize_index"`
	TicketIndex    uint64 `json:"ticket_index"`
	IdempotencyKey string `json:"idempotency_key"`
}

// NewClient создаёт клиент шлюза кошелька по указанному адресу.
func NewClient(baseURL string) *Client {
	reader := retryablehttp.NewClient()
	reader.RetryMax = 3
	reader.RetryWaitMin = 200 * time.Millisecond
	reader.RetryWaitMax = 2 * time.Second
	reader.HTTPClient.Timeout = 5 * time.Second
	reader.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		reader:  reader,
		sender: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

// NativeBalance возвращает нативный баланс кошелька в минимальных единицах.
func (c *Client) NativeBalance(ctx context.Context, wallet string) (uint64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("chain client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/accounts/"+wallet+"/balance"), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.reader.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return result.Lamports, nil
}

// TokenBalance возвращает баланс токенового счёта кошелька для указанного
// минта. Если счёт не существует, возвращается nil без ошибки.
func (c *Client) TokenBalance(ctx context.Context, wallet, mint string) (*uint64, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("chain client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/accounts/"+wallet+"/tokens/"+mint), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.reader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result.Amount, nil
}

// GetRaffle возвращает актуальный снимок розыгрыша по его адресу.
func (c *Client) GetRaffle(ctx context.Context, address string) (*model.Raffle, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("chain client not configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url("/api/raffles/"+address), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.reader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var raffle model.Raffle
	if err := json.NewDecoder(resp.Body).Decode(&raffle); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &raffle, nil
}

// SubmitPurchase собирает и отправляет транзакцию покупки билетов.
func (c *Client) SubmitPurchase(ctx context.Context, req PurchaseRequest) error {
	return c.submit(ctx, "/api/transactions/purchase", req)
}

// SubmitClaim собирает и отправляет транзакцию получения приза.
func (c *Client) SubmitClaim(ctx context.Context, req ClaimRequest) error {
	return c.submit(ctx, "/api/transactions/claim", req)
}

func (c *Client) submit(ctx context.Context, path string, payload any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("chain client not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.sender.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var failure struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Message != "" {
		return &SubmitError{Message: failure.Message}
	}

	return fmt.Errorf("unexpected status: %d", resp.StatusCode)
}
