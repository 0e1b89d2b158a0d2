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

package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrOrderNotFound  ErrorCode = "ORDER_NOT_FOUND"
	ErrInvalidState   ErrorCode = "INVALID_STATE"
	ErrEscrowReleased ErrorCode = "ESCROW_ALREADY_RELEASED"
	ErrAlreadyScanned ErrorCode = "ALREADY_SCANNED"
	ErrExpired        ErrorCode = "EXPIRED"
	ErrWrongSeller    ErrorCode = "WRONG_SELLER"
	ErrWrongKind      ErrorCode = "WRONG_KIND"
	ErrInvalidCode    ErrorCode = "INVALID_CODE"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Code extracts the machine-readable code from an error, falling back to
// INTERNAL_SERVER_ERROR for anything that is not an APIError.
func Code(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound, ErrOrderNotFound:
			return http.StatusNotFound
		case ErrAlreadyScanned, ErrEscrowReleased, ErrConflict:
			return http.StatusConflict
		case ErrExpired:
			return http.StatusGone
		case ErrWrongSeller:
			return http.StatusForbidden
		case ErrInvalidState, ErrWrongKind, ErrInvalidCode:
			return http.StatusUnprocessableEntity
		case ErrBadRequest:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
