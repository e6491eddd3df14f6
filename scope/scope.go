// Package scope carries the identity of the caller that owns a job (a
// signed-in user or an anonymous session) through context.Context.
//
// The HTTP layer captures the owner once per request; the submitter stamps
// it onto new jobs and the API compares it against a job's owner before
// reads, cancellation and deletion.
package scope

import "context"

// Owner identifies the creator of a job. At most one field is meaningful:
// when UserID is set, SessionID is ignored.
type Owner struct {
	UserID    string
	SessionID string
}

// IsZero reports whether neither identifier is set.
func (o Owner) IsZero() bool { return o.UserID == "" && o.SessionID == "" }

type ownerKey struct{}

// WithOwner returns a copy of ctx carrying o. A zero owner leaves ctx unchanged.
func WithOwner(ctx context.Context, o Owner) context.Context {
	if o.IsZero() {
		return ctx
	}
	if o.UserID != "" {
		o.SessionID = ""
	}
	return context.WithValue(ctx, ownerKey{}, o)
}

// Capture returns the owner stored in ctx.
func Capture(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ownerKey{}).(Owner)
	return o, ok
}
