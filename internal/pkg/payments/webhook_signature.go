package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// VerifyIPNSignature checks the provider's signature header against an
// HMAC-SHA512 of the raw, unparsed request body. Re-serialized JSON is not
// guaranteed to round-trip byte-for-byte, so callers must pass the exact
// bytes received. Anything that cannot be verified counts as invalid.
func VerifyIPNSignature(payload []byte, signatureHeader, ipnSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(ipnSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}
