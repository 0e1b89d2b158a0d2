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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sokomarket/soko/config"
	"github.com/sokomarket/soko/internal/apierror"
	redlock "github.com/sokomarket/soko/internal/lock"
	"github.com/sokomarket/soko/model"
)

var tracer trace.Tracer = otel.Tracer("soko.escrow")

const redemptionLockTTL = 30 * time.Second

// RedeemQR verifies a scanned delivery token presented by a seller and, when
// everything checks out, settles the order's escrow. Every attempt, however
// it ends, lands in the scan audit trail.
func (s *Soko) RedeemQR(ctx context.Context, token, sellerID string) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "RedeemQR")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	// A token that fails signature verification carries no trustworthy order
	// reference, so there is nothing to attribute an audit entry to.
	payload, err := model.VerifyDeliveryToken(token, []byte(conf.Escrow.SigningSecret))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery credential not found", nil)
	}

	credential, err := s.datasource.GetCredentialByToken(ctx, token)
	if err != nil {
		if apierror.Code(err) == apierror.ErrNotFound {
			s.logScanAttempt(ctx, "", payload.OrderID, sellerID, model.ScanResultNotFound, "token valid but credential superseded or consumed")
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery credential not found", nil)
		}
		return nil, err
	}

	if credential.Status == model.CredentialStatusScanned {
		s.logScanAttempt(ctx, credential.CredentialID, credential.OrderID, sellerID, model.ScanResultAlreadyScanned, "")
		return nil, apierror.NewAPIError(apierror.ErrAlreadyScanned, "Delivery credential has already been used", nil)
	}

	if credential.Expired(time.Now()) {
		if err := s.datasource.DeleteCredential(ctx, credential.CredentialID); err != nil {
			logrus.Errorf("failed to delete expired credential %s: %v", credential.CredentialID, err)
		}
		s.logScanAttempt(ctx, credential.CredentialID, credential.OrderID, sellerID, model.ScanResultExpired, "")
		return nil, apierror.NewAPIError(apierror.ErrExpired, "Delivery credential has expired", nil)
	}

	if credential.SellerID != sellerID {
		s.logScanAttempt(ctx, credential.CredentialID, credential.OrderID, sellerID, model.ScanResultWrongSeller, "")
		return nil, apierror.NewAPIError(apierror.ErrWrongSeller, "Credential belongs to a different seller", nil)
	}

	order, err := s.datasource.GetOrder(ctx, credential.OrderID)
	if err != nil {
		if apierror.Code(err) == apierror.ErrOrderNotFound {
			s.logScanAttempt(ctx, credential.CredentialID, credential.OrderID, sellerID, model.ScanResultOrderNotFound, "")
		}
		return nil, err
	}

	return s.redeem(ctx, order, credential, model.CredentialKindQR)
}

// RedeemCode settles escrow against a 7-digit delivery code read out by the
// buyer at the door. A mismatched code keeps the credential alive so a typo
// does not force reissuance.
func (s *Soko) RedeemCode(ctx context.Context, orderID, code, sellerID string) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "RedeemCode")
	defer span.End()

	order, err := s.datasource.GetOrder(ctx, orderID)
	if err != nil {
		if apierror.Code(err) == apierror.ErrOrderNotFound {
			s.logScanAttempt(ctx, "", orderID, sellerID, model.ScanResultOrderNotFound, "")
		}
		return nil, err
	}

	if order.SellerID != sellerID {
		s.logScanAttempt(ctx, "", orderID, sellerID, model.ScanResultWrongSeller, "")
		return nil, apierror.NewAPIError(apierror.ErrWrongSeller, "Order belongs to a different seller", nil)
	}

	if order.EscrowStatus != model.EscrowStatusHolding {
		s.logScanAttempt(ctx, "", orderID, sellerID, model.ScanResultEscrowReleased, "")
		return nil, apierror.NewAPIError(apierror.ErrEscrowReleased, "Escrow for this order has already been settled", nil)
	}

	credential, err := s.datasource.GetActiveCredentialForOrder(ctx, orderID)
	if err != nil {
		if apierror.Code(err) == apierror.ErrNotFound {
			s.logScanAttempt(ctx, "", orderID, sellerID, model.ScanResultNotFound, "no active credential for order")
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Delivery credential not found", nil)
		}
		return nil, err
	}

	if credential.Expired(time.Now()) {
		if err := s.datasource.DeleteCredential(ctx, credential.CredentialID); err != nil {
			logrus.Errorf("failed to delete expired credential %s: %v", credential.CredentialID, err)
		}
		s.logScanAttempt(ctx, credential.CredentialID, orderID, sellerID, model.ScanResultExpired, "")
		return nil, apierror.NewAPIError(apierror.ErrExpired, "Delivery credential has expired", nil)
	}

	if credential.Kind != model.CredentialKindCode {
		s.logScanAttempt(ctx, credential.CredentialID, orderID, sellerID, model.ScanResultWrongKind, "")
		return nil, apierror.NewAPIError(apierror.ErrWrongKind, "Order has a QR credential, not a delivery code", nil)
	}

	// The credential survives a failed comparison. The buyer may simply have
	// misread a digit.
	if !model.CompareCodeHash(model.HashDeliveryCode(code, order.OrderID, order.SellerID), credential.SecretMaterial) {
		s.logScanAttempt(ctx, credential.CredentialID, orderID, sellerID, model.ScanResultInvalidCode, "")
		return nil, apierror.NewAPIError(apierror.ErrInvalidCode, "Delivery code is incorrect", nil)
	}

	return s.redeem(ctx, order, credential, model.CredentialKindCode)
}

// redeem is the shared tail of both redemption paths: flip the credential,
// then settle. The credential flip is the single-use gate; the lock in front
// of it only narrows the window in which two requests hit the database.
func (s *Soko) redeem(ctx context.Context, order *model.Order, credential *model.Credential, method string) (*SettlementResult, error) {
	if order.EscrowStatus != model.EscrowStatusHolding {
		s.logScanAttempt(ctx, credential.CredentialID, order.OrderID, credential.SellerID, model.ScanResultEscrowReleased, "")
		return nil, apierror.NewAPIError(apierror.ErrEscrowReleased, "Escrow for this order has already been settled", nil)
	}

	locker := redlock.NewLocker(s.redis, fmt.Sprintf("redeem:%s", order.OrderID), model.GenerateUUIDWithSuffix("lock"))
	if err := locker.Lock(ctx, redemptionLockTTL); err != nil {
		// The lock is advisory. The scanned-status compare-and-set below is
		// what actually prevents a double redemption.
		logrus.Warnf("could not acquire redemption lock for order %s: %v", order.OrderID, err)
	} else {
		defer func() {
			if err := locker.Unlock(ctx); err != nil {
				logrus.Error("failed to release redemption lock", err)
			}
		}()
	}

	scanned, err := s.datasource.MarkCredentialScanned(ctx, credential.CredentialID)
	if err != nil {
		return nil, err
	}
	if !scanned {
		s.logScanAttempt(ctx, credential.CredentialID, order.OrderID, credential.SellerID, model.ScanResultAlreadyScanned, "")
		return nil, apierror.NewAPIError(apierror.ErrAlreadyScanned, "Delivery credential has already been used", nil)
	}

	result, err := s.ReleaseEscrow(ctx, order, method)
	if err != nil {
		s.logScanAttempt(ctx, credential.CredentialID, order.OrderID, credential.SellerID, model.ScanResultSettlementError, err.Error())
		return nil, err
	}

	s.logScanAttempt(ctx, credential.CredentialID, order.OrderID, credential.SellerID, model.ScanResultReleased, "")
	return result, nil
}

// logScanAttempt appends to the scan audit trail. Audit writes never fail a
// redemption; a failed insert is logged and dropped.
func (s *Soko) logScanAttempt(ctx context.Context, credentialID, orderID, sellerID, result, errorMessage string) {
	entry := &model.ScanLogEntry{
		CredentialID: credentialID,
		OrderID:      orderID,
		SellerID:     sellerID,
		Result:       result,
		ErrorMessage: errorMessage,
	}
	if err := s.datasource.RecordScanAttempt(ctx, entry); err != nil {
		logrus.Errorf("failed to record scan attempt for order %s: %v", orderID, err)
	}
}

// GetScanAttempts returns the audit trail for an order, newest first, scoped
// to the seller who owns the order.
func (s *Soko) GetScanAttempts(ctx context.Context, orderID, sellerID string, limit, offset int) ([]*model.ScanLogEntry, error) {
	ctx, span := tracer.Start(ctx, "GetScanAttempts")
	defer span.End()

	if _, err := s.datasource.GetOrderForSeller(ctx, orderID, sellerID); err != nil {
		return nil, err
	}
	return s.datasource.GetScanAttempts(ctx, orderID, limit, offset)
}
