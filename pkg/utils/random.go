package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	digits  = "0123456789"
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ReferralCodePrefix starts every referral code, e.g. SZLUDO1234AB.
const ReferralCodePrefix = "SZLUDO"

func randomFrom(set string, n int) string {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return ""
		}
		b[i] = set[num.Int64()]
	}
	return string(b)
}

// GenerateRandomID generates a random string of length n
func GenerateRandomID(n int) string {
	return randomFrom(charset, n)
}

// GenerateReferralCode returns the prefix followed by four digits and two
// upper-case letters. An empty string means the system RNG failed.
func GenerateReferralCode() string {
	num := randomFrom(digits, 4)
	suffix := randomFrom(letters, 2)
	if num == "" || suffix == "" {
		return ""
	}
	return ReferralCodePrefix + num + suffix
}
