/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package soko

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sokomarket/soko/config"
	"github.com/sokomarket/soko/internal/apierror"
	"github.com/sokomarket/soko/model"
)

// IssuedQRCredential is returned to the buyer's app, which renders the token
// as a QR image. The token itself is the only secret that leaves the server.
type IssuedQRCredential struct {
	CredentialID string    `json:"credential_id"`
	OrderID      string    `json:"order_id"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IssuedCodeCredential carries the plaintext delivery code exactly once, at
// issuance. Only its salted hash is stored.
type IssuedCodeCredential struct {
	CredentialID string    `json:"credential_id"`
	OrderID      string    `json:"order_id"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CredentialState describes the active credential on an order without
// exposing any secret material.
type CredentialState struct {
	CredentialID string     `json:"credential_id"`
	OrderID      string     `json:"order_id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ScannedAt    *time.Time `json:"scanned_at,omitempty"`
}

// issuableOrder loads the order and checks the issuance preconditions shared
// by both credential kinds. The buyer scoping returns a plain not-found so a
// probing caller learns nothing about orders that are not theirs.
func (s *Soko) issuableOrder(ctx context.Context, orderID, buyerID string) (*model.Order, error) {
	order, err := s.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, "Order not found", nil)
	}
	if order.EscrowStatus != model.EscrowStatusHolding {
		return nil, apierror.NewAPIError(apierror.ErrEscrowReleased, "Escrow for this order has already been settled", nil)
	}
	if !order.DeliveryVerifiable() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidState, "Order is not yet out for delivery", nil)
	}
	return order, nil
}

// IssueQRCredential mints a signed delivery token for the order and stores it
// as the order's single active credential. Re-issuing supersedes any earlier
// credential, whatever its kind.
func (s *Soko) IssueQRCredential(ctx context.Context, orderID, buyerID string) (*IssuedQRCredential, error) {
	ctx, span := tracer.Start(ctx, "IssueQRCredential")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	order, err := s.issuableOrder(ctx, orderID, buyerID)
	if err != nil {
		return nil, err
	}

	payload := model.TokenPayload{
		OrderID:  order.OrderID,
		BuyerID:  order.BuyerID,
		SellerID: order.SellerID,
		IssuedAt: time.Now().Unix(),
		Nonce:    uuid.New().String(),
	}
	token, err := model.SignDeliveryToken(payload, []byte(conf.Escrow.SigningSecret))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sign delivery token", err)
	}

	credential := &model.Credential{
		OrderID:        order.OrderID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Kind:           model.CredentialKindQR,
		SecretMaterial: token,
		ExpiresAt:      time.Now().Add(conf.Escrow.CredentialTTL()),
	}
	credential, err = s.datasource.SaveCredential(ctx, credential)
	if err != nil {
		return nil, err
	}

	return &IssuedQRCredential{
		CredentialID: credential.CredentialID,
		OrderID:      credential.OrderID,
		Token:        token,
		ExpiresAt:    credential.ExpiresAt,
	}, nil
}

// IssueCodeCredential mints a 7-digit delivery code for buyers who cannot
// display a QR. The plaintext code appears only in the response; the stored
// credential holds its salted hash.
func (s *Soko) IssueCodeCredential(ctx context.Context, orderID, buyerID string) (*IssuedCodeCredential, error) {
	ctx, span := tracer.Start(ctx, "IssueCodeCredential")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	order, err := s.issuableOrder(ctx, orderID, buyerID)
	if err != nil {
		return nil, err
	}

	code, err := model.GenerateDeliveryCode()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to generate delivery code", err)
	}

	credential := &model.Credential{
		OrderID:        order.OrderID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		Kind:           model.CredentialKindCode,
		SecretMaterial: model.HashDeliveryCode(code, order.OrderID, order.SellerID),
		ExpiresAt:      time.Now().Add(conf.Escrow.CredentialTTL()),
	}
	credential, err = s.datasource.SaveCredential(ctx, credential)
	if err != nil {
		return nil, err
	}

	return &IssuedCodeCredential{
		CredentialID: credential.CredentialID,
		OrderID:      credential.OrderID,
		Code:         code,
		ExpiresAt:    credential.ExpiresAt,
	}, nil
}

// CredentialStatus reports the state of the order's active credential. Both
// parties to the order poll it: the buyer's app to decide whether to refresh
// its QR, the seller's scanning UI before attempting a redemption. Checking
// an expired credential removes it.
func (s *Soko) CredentialStatus(ctx context.Context, orderID, callerID string) (*CredentialState, error) {
	ctx, span := tracer.Start(ctx, "CredentialStatus")
	defer span.End()

	order, err := s.datasource.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != callerID && order.SellerID != callerID {
		return nil, apierror.NewAPIError(apierror.ErrOrderNotFound, "Order not found", nil)
	}

	credential, err := s.datasource.GetActiveCredentialForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if credential.Expired(time.Now()) {
		if err := s.datasource.DeleteCredential(ctx, credential.CredentialID); err != nil {
			return nil, err
		}
		return nil, apierror.NewAPIError(apierror.ErrExpired, "Delivery credential has expired", nil)
	}

	return &CredentialState{
		CredentialID: credential.CredentialID,
		OrderID:      credential.OrderID,
		Kind:         credential.Kind,
		Status:       credential.Status,
		ExpiresAt:    credential.ExpiresAt,
		ScannedAt:    credential.ScannedAt,
	}, nil
}
