// Package notifications pushes pipeline attempt outcomes to an ntfy topic.
//
// NewService returns a noop implementation when no topic is configured, so
// callers publish unconditionally. Failed attempts always notify; completed
// attempts notify only when notifications.on_success is set.
package notifications
