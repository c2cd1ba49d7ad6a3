package logx

import (
	"context"

	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	clientKey contextKey = iota
	ownerKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithClient annotates the logger with the client id if present.
func WithClient(ctx context.Context, clientID schema.ClientID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if clientID != "" {
		if current, ok := ctx.Value(clientKey).(schema.ClientID); ok && current == clientID {
			return log
		}
		log = log.With("client", clientID)
	}
	return log
}

// WithOwner annotates the logger with the registration owner.
func WithOwner(ctx context.Context, owner schema.OwnerID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if owner != "" {
		if current, ok := ctx.Value(ownerKey).(schema.OwnerID); ok && current == owner {
			return log
		}
		log = log.With("owner", owner)
	}
	return log
}

// WithTrigger annotates the logger with trigger identity.
func WithTrigger(log pslog.Logger, id schema.TriggerID) pslog.Logger {
	if id != "" {
		log = log.With("trigger", id)
	}
	return log
}

// WithEvent annotates the logger with an event name.
func WithEvent(log pslog.Logger, name schema.EventName) pslog.Logger {
	if name != "" {
		log = log.With("event", name)
	}
	return log
}

// ContextWithClient stores the client marker on the context for log de-duplication.
func ContextWithClient(ctx context.Context, clientID schema.ClientID) context.Context {
	if ctx == nil || clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKey, clientID)
}

// ContextWithOwner stores the owner marker on the context for log de-duplication.
func ContextWithOwner(ctx context.Context, owner schema.OwnerID) context.Context {
	if ctx == nil || owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey, owner)
}

// ContextWithClientLogger attaches the logger and client marker to the context.
func ContextWithClientLogger(ctx context.Context, log pslog.Logger, clientID schema.ClientID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithClient(ctx, clientID)
}
