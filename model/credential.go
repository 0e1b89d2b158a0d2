package model

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	CredentialKindQR   = "qr"
	CredentialKindCode = "code"

	CredentialStatusActive  = "active"
	CredentialStatusScanned = "scanned"
)

// ErrTokenInvalid is returned when a delivery token is malformed or carries a
// bad signature.
var ErrTokenInvalid = errors.New("delivery token is malformed or has an invalid signature")

// Credential is a single-use, time-bounded proof of delivery binding one
// buyer/seller/order triple. At most one credential per order is active at
// any time; issuing a new one supersedes the previous one.
type Credential struct {
	ID             int64      `json:"-"`
	CredentialID   string     `json:"credential_id"`
	OrderID        string     `json:"order_id"`
	BuyerID        string     `json:"buyer_id"`
	SellerID       string     `json:"seller_id"`
	Kind           string     `json:"kind"`
	SecretMaterial string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Status         string     `json:"status"`
	ScannedAt      *time.Time `json:"scanned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (c *Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TokenPayload is the signed content of a QR delivery token.
type TokenPayload struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	IssuedAt int64  `json:"issued_at"`
	Nonce    string `json:"nonce"`
}

// SignDeliveryToken serializes the payload and signs it with HMAC-SHA256
// under the server-held secret. The result is one opaque string of the form
// base64url(payload).base64url(signature).
func SignDeliveryToken(payload TokenPayload, secret []byte) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyDeliveryToken checks the token signature and returns the decoded
// payload. Any structural or signature failure comes back as ErrTokenInvalid.
func VerifyDeliveryToken(token string, secret []byte) (*TokenPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrTokenInvalid
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenInvalid
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrTokenInvalid
	}
	var payload TokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrTokenInvalid
	}
	return &payload, nil
}

const (
	codeMin  = 1000000
	codeSpan = 9000000
)

// GenerateDeliveryCode draws a 7-digit decimal code from a cryptographically
// random 32-bit value. Mapping 2^32 values onto 9,000,000 buckets leaves a
// ~2^-32 modulo skew per code, which is acceptable for a credential that is
// additionally bound to a single order and seller.
func GenerateDeliveryCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(buf[:])
	return strconv.Itoa(codeMin + int(n%codeSpan)), nil
}

// HashDeliveryCode salts the code with the order and seller ids before
// hashing, so equal codes issued for different orders never share a stored
// hash. Only this hash is ever persisted, never the plaintext code.
func HashDeliveryCode(code, orderID, sellerID string) string {
	sum := sha256.Sum256([]byte(code + orderID + sellerID))
	return hex.EncodeToString(sum[:])
}

// CompareCodeHash compares two code hashes in constant time.
func CompareCodeHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
