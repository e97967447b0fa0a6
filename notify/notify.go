// Package notify defines the notification sink consumed by the scheduler,
// the alert manager, and job bodies. Notifications are fire-and-forget: a
// failing sink is logged by callers and never surfaces as a scheduler
// failure.
package notify

import "context"

// Notifier delivers a message to a target (a channel name, a webhook
// route, a user id - the meaning belongs to the implementation).
type Notifier interface {
	Send(ctx context.Context, target, message string) error
}

// Func adapts a function to the Notifier interface
type Func func(ctx context.Context, target, message string) error

// Send implements Notifier
func (f Func) Send(ctx context.Context, target, message string) error {
	return f(ctx, target, message)
}

// Nop is a Notifier that discards everything
type Nop struct{}

// Send implements Notifier
func (Nop) Send(context.Context, string, string) error { return nil }
