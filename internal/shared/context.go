package shared

import "context"

// Scope carries the caller identity resolved by the upstream auth layer.
type Scope struct {
	CompanyID   int64
	PersonnelID int64
}

// Valid reports whether the scope names a company.
func (s Scope) Valid() bool {
	return s.CompanyID > 0
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok && scope.Valid()
}
