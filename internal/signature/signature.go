// Package signature implements the HMAC-SHA256 checks the upstream
// platform requires: verifying the X-Hub-Signature-256 header over the
// raw webhook body, and computing the appsecret_proof sent on every
// Graph API call.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const sha256Prefix = "sha256="

// VerifyWebhook reports whether header is a valid X-Hub-Signature-256
// value for rawBody under appSecret. The raw bytes must be the exact
// request body read before any JSON parsing — re-serialized JSON will
// not reproduce the same MAC.
func VerifyWebhook(header string, rawBody []byte, appSecret string) bool {
	if !strings.HasPrefix(header, sha256Prefix) {
		return false
	}
	sigHex := strings.TrimPrefix(header, sha256Prefix)

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	expected := computeMAC(rawBody, appSecret)
	if len(sig) != len(expected) {
		return false
	}

	return hmac.Equal(sig, expected)
}

// AppSecretProof returns hex(HMAC-SHA256(appSecret, accessToken)), the
// proof the Graph API requires alongside access_token on every call.
func AppSecretProof(accessToken, appSecret string) string {
	mac := computeMAC([]byte(accessToken), appSecret)
	return hex.EncodeToString(mac)
}

func computeMAC(data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}
