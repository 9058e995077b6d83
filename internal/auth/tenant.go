package auth

import (
	"context"
	"errors"
)

// ErrServiceMismatch indicates a device belongs to a different Fiware service.
var ErrServiceMismatch = errors.New("auth: service mismatch")

// EnsureService verifies the caller identity may act on a device of service/subservice.
// Requests without identity (auth disabled) and admins pass.
func EnsureService(ctx context.Context, service, subservice string) error {
	callerService := ServiceFromContext(ctx)
	if callerService == "" || RoleFromContext(ctx) == RoleAdmin {
		return nil
	}
	if callerService != service {
		return ErrServiceMismatch
	}
	if sub := SubserviceFromContext(ctx); sub != "" && sub != subservice {
		return ErrServiceMismatch
	}
	return nil
}
