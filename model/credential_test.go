package model

import (
	"strconv"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifyDeliveryToken(t *testing.T) {
	secret := []byte("test-signing-secret")
	payload := TokenPayload{
		OrderID:  gofakeit.UUID(),
		BuyerID:  gofakeit.UUID(),
		SellerID: gofakeit.UUID(),
		IssuedAt: time.Now().Unix(),
		Nonce:    gofakeit.UUID(),
	}

	token, err := SignDeliveryToken(payload, secret)
	assert.NoError(t, err)
	assert.NotContains(t, token, payload.OrderID, "payload must be opaque in the encoded token")

	decoded, err := VerifyDeliveryToken(token, secret)
	assert.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestVerifyDeliveryTokenRejectsTampering(t *testing.T) {
	secret := []byte("test-signing-secret")
	token, err := SignDeliveryToken(TokenPayload{OrderID: gofakeit.UUID()}, secret)
	assert.NoError(t, err)

	_, err = VerifyDeliveryToken(token+"x", secret)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = VerifyDeliveryToken(token, []byte("a-different-secret"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = VerifyDeliveryToken("not-a-token", secret)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestGenerateDeliveryCodeRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := GenerateDeliveryCode()
		assert.NoError(t, err)
		assert.Len(t, code, 7)

		n, err := strconv.Atoi(code)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1000000)
		assert.LessOrEqual(t, n, 9999999)
	}
}

func TestHashDeliveryCodeSaltedByOrderAndSeller(t *testing.T) {
	code := "1234567"
	a := HashDeliveryCode(code, "ord_1", "usr_seller_1")
	b := HashDeliveryCode(code, "ord_2", "usr_seller_1")
	c := HashDeliveryCode(code, "ord_1", "usr_seller_2")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, HashDeliveryCode(code, "ord_1", "usr_seller_1"))
	assert.True(t, CompareCodeHash(a, HashDeliveryCode(code, "ord_1", "usr_seller_1")))
	assert.False(t, CompareCodeHash(a, b))
}

func TestCredentialExpired(t *testing.T) {
	credential := Credential{ExpiresAt: time.Now().Add(time.Minute)}
	assert.False(t, credential.Expired(time.Now()))
	assert.True(t, credential.Expired(time.Now().Add(2*time.Minute)))
}
