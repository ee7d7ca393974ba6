// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

package connector

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrRateLimitExceeded is returned when the provider keeps answering 429
// after all retries are spent
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TransportError wraps a network or TLS level failure
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Cause.Error()
}

// Unwrap returns the underlying cause
func (e *TransportError) Unwrap() error { return e.Cause }

// APIError is returned for non-2xx, non-429 responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status code %d", e.StatusCode)
}

// AuthenticationFailed is returned when the provider rejects the credentials
type AuthenticationFailed struct {
	Reason string
}

func (e *AuthenticationFailed) Error() string {
	return "authentication failed: " + e.Reason
}

// MalformedRecord describes a raw record that could not be normalized
type MalformedRecord struct {
	Reason string
	Raw    string
}

func (e *MalformedRecord) Error() string {
	return "malformed record: " + e.Reason
}

// Describe returns a short human readable description of err suitable for
// a ValidationResult message
func Describe(err error) string {
	var apiErr *APIError
	var authErr *AuthenticationFailed
	var tErr *TransportError
	switch {
	case errors.As(err, &authErr):
		return "Authentication failed, verify the credentials. " + authErr.Reason
	case errors.Is(err, ErrRateLimitExceeded):
		return "The provider is rate limiting requests, try again later."
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Sprintf("Received status code %d, verify the credentials and their permissions.", apiErr.StatusCode)
		case 404:
			return "Received status code 404, verify the base URL."
		}
		return fmt.Sprintf("Received status code %d from the provider.", apiErr.StatusCode)
	case errors.As(err, &tErr):
		return "Unable to connect to the provider, verify the base URL and proxy settings. " + tErr.Cause.Error()
	}
	return err.Error()
}
