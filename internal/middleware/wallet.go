// Package middleware содержит HTTP middleware локального моста сессий.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const walletKey contextKey = "wallet"

const (
	walletCookieName = "wallet_session"
	walletCookieTTL  = 365 * 24 * time.Hour
)

// WalletMiddleware привязывает запросы к подключённому кошельку по
// подписанному cookie. Подпись подтверждает только то, что подключение
// прошло через этот процесс, а не владение ключами кошелька.
type WalletMiddleware struct {
	secretKey []byte
}

// NewWalletMiddleware создаёт новый экземпляр WalletMiddleware с указанным секретным ключом.
func NewWalletMiddleware(secret string) *WalletMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &WalletMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет адрес кошелька в контекст запроса.
func (m *WalletMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(walletCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		wallet, ok := m.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), walletKey, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetWalletCookie устанавливает cookie сессии для указанного адреса кошелька.
func (m *WalletMiddleware) SetWalletCookie(w http.ResponseWriter, wallet string) {
	cookie := &http.Cookie{
		Name:     walletCookieName,
		Value:    m.signWallet(wallet),
		Path:     "/",
		Expires:  time.Now().Add(walletCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearWalletCookie сбрасывает cookie сессии при отключении кошелька.
func (m *WalletMiddleware) ClearWalletCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     walletCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// Адреса кошельков записаны в base58 и не содержат точку, поэтому она
// служит разделителем значения и подписи.
func (m *WalletMiddleware) signWallet(wallet string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(wallet))
	signature := mac.Sum(nil)
	return wallet + "." + hex.EncodeToString(signature)
}

func (m *WalletMiddleware) parseCookie(cookieValue string) (string, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return "", false
	}

	wallet := parts[0]
	signature := parts[1]
	if wallet == "" {
		return "", false
	}

	expected := strings.Split(m.signWallet(wallet), ".")
	if len(expected) != 2 {
		return "", false
	}

	if !hmac.Equal([]byte(signature), []byte(expected[1])) {
		return "", false
	}

	return wallet, true
}

// GetWalletFromContext извлекает адрес кошелька из контекста запроса.
func GetWalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(walletKey).(string)
	return wallet, ok
}
