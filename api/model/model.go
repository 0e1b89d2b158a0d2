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

package model

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var deliveryCodePattern = regexp.MustCompile(`^[0-9]{7}$`)

// IssueCredential is the request body for minting a delivery credential. The
// buyer identity comes from the authenticated gateway, not from the client.
type IssueCredential struct {
	BuyerID string `json:"buyer_id"`
}

func (i *IssueCredential) ValidateIssueCredential() error {
	return validation.ValidateStruct(i,
		validation.Field(&i.BuyerID, validation.Required),
	)
}

// RedeemQR is the request body for a seller scanning a buyer's QR token.
type RedeemQR struct {
	Token    string `json:"token"`
	SellerID string `json:"seller_id"`
}

func (r *RedeemQR) ValidateRedeemQR() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.SellerID, validation.Required),
	)
}

// RedeemCode is the request body for a seller entering the buyer's spoken
// delivery code.
type RedeemCode struct {
	OrderID  string `json:"order_id"`
	Code     string `json:"code"`
	SellerID string `json:"seller_id"`
}

func (r *RedeemCode) ValidateRedeemCode() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OrderID, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Match(deliveryCodePattern).Error("code must be exactly 7 digits")),
		validation.Field(&r.SellerID, validation.Required),
	)
}
