// Package notifier sends outbound text through the active transport.
//
// Sends are synchronous so callers see the outcome. A shared token bucket
// keeps bursts (for example many reminders due in the same tick) under the
// transport's flood limits, and each send has its own timeout. Failures are
// returned to the caller and never retried here.
//
// The service keeps a small in-memory history for /status and publishes
// notify.sent / notify.failed on the event bus.
package notifier
