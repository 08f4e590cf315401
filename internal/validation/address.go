// Package validation содержит проверку входных данных на границе HTTP.
package validation

// base58 alphabet: без 0, O, I и l.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Set = func() [256]bool {
	var set [256]bool
	for _, c := range base58Alphabet {
		set[c] = true
	}
	return set
}()

// IsValidWalletAddress проверяет, что строка выглядит как адрес кошелька:
// base58 длиной от 32 до 44 символов. Существование счёта не проверяется.
func IsValidWalletAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for i := 0; i < len(address); i++ {
		if !base58Set[address[i]] {
			return false
		}
	}
	return true
}
