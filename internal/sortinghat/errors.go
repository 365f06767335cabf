// SPDX-License-Identifier: GPL-3.0-or-later

package sortinghat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyExists is returned when the backend rejects a mutation
	// because the entity is already registered. Importers treat it as
	// success to keep re-imports idempotent.
	ErrAlreadyExists = errors.New("sortinghat: entity already exists")

	// ErrNotFound is returned when the backend cannot resolve the entity a
	// mutation refers to.
	ErrNotFound = errors.New("sortinghat: entity not found")

	// ErrUnauthorized is returned for authentication failures.
	ErrUnauthorized = errors.New("sortinghat: authentication failed")

	// ErrUnavailable is returned for transport failures and server errors.
	ErrUnavailable = errors.New("sortinghat: backend unavailable")
)

// Backend error codes carried in the extensions of GraphQL errors.
const (
	codeAlreadyExists = 2
	codeNotFound      = 9
	codeAuthFailure   = 32
)

// GraphQLError is a single error entry of a GraphQL response.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code int `json:"code"`
	} `json:"extensions"`
}

func (e GraphQLError) sentinel() error {
	switch e.Extensions.Code {
	case codeAlreadyExists:
		return ErrAlreadyExists
	case codeNotFound:
		return ErrNotFound
	case codeAuthFailure:
		return ErrUnauthorized
	}
	// Older backends do not set extension codes.
	if strings.Contains(strings.ToLower(e.Message), "already exists") {
		return ErrAlreadyExists
	}
	return nil
}

// OpError wraps a failed GraphQL operation with its context.
type OpError struct {
	Sentinel  error
	Operation string
	Message   string
	Err       error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("sortinghat: %s failed", e.Operation)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OpError) Unwrap() error {
	if e.Sentinel != nil {
		return e.Sentinel
	}
	return e.Err
}
