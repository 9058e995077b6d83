package auth

import "context"

type contextKey string

const (
	contextKeyService    contextKey = "auth.service"
	contextKeySubservice contextKey = "auth.subservice"
	contextKeyRole       contextKey = "auth.role"
	contextKeySubject    contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context.
func WithIdentity(ctx context.Context, service, subservice string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyService, service)
	ctx = context.WithValue(ctx, contextKeySubservice, subservice)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// ServiceFromContext extracts the Fiware service from context.
func ServiceFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeyService)
}

// SubserviceFromContext extracts the Fiware service path from context.
func SubserviceFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeySubservice)
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	return stringValue(ctx, contextKeySubject)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(key).(string); ok {
		return value
	}
	return ""
}
