// Package reqctx defines the request-context keys the auth middleware
// populates and every downstream handler reads, so neither package has
// to import the other.
package reqctx

import (
	"context"

	"github.com/lumenstack/logflow/logmodel"
)

type contextKey int

const (
	credentialKey contextKey = iota
)

// WithCredential attaches the resolved credential record to ctx.
func WithCredential(ctx context.Context, rec logmodel.CredentialRecord) context.Context {
	return context.WithValue(ctx, credentialKey, rec)
}

// Credential returns the resolved credential record, if any middleware
// has populated one.
func Credential(ctx context.Context) (logmodel.CredentialRecord, bool) {
	rec, ok := ctx.Value(credentialKey).(logmodel.CredentialRecord)
	return rec, ok
}

// ProjectID is a convenience accessor returning just the project ID,
// empty if no credential is present.
func ProjectID(ctx context.Context) string {
	rec, _ := Credential(ctx)
	return rec.ProjectID
}
