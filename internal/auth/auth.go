// Package auth verifies bearer credentials against the token store
package auth

import (
	"context"
	"errors"
	"strings"

	"inference-gateway/internal/shared"
	"inference-gateway/internal/tokenstore"

	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// Identity is the resolved caller of an authenticated request. Deprecated is
// a soft flag for telemetry only; it never changes the response.
type Identity struct {
	CustomerID string
	Deprecated bool
}

type Validator struct {
	store tokenstore.Store
	log   *zap.SugaredLogger
}

func NewValidator(store tokenstore.Store, log *zap.SugaredLogger) *Validator {
	return &Validator{store: store, log: log}
}

// Validate resolves the Authorization header to a customer identity.
// Failures are caller faults (401) except a store outage, which is the one
// auth case surfaced as a 500.
func (v *Validator) Validate(ctx context.Context, authorization string) (*Identity, *shared.RequestError) {
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return nil, shared.ErrMissingAuth
	}
	token := strings.TrimPrefix(authorization, bearerPrefix)

	record, err := v.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, shared.ErrInvalidToken
		}
		v.log.Errorw("Error looking up token", "error", err)
		return nil, shared.ErrAuthUnavailable
	}

	switch record.Status {
	case tokenstore.StatusActive:
	case tokenstore.StatusDeprecated:
		v.log.Warnw("Customer is using a deprecated token", "customer_id", record.CustomerID)
	default:
		return nil, shared.ErrInvalidToken
	}

	return &Identity{
		CustomerID: record.CustomerID,
		Deprecated: record.Status == tokenstore.StatusDeprecated,
	}, nil
}
