// Package notify delivers token and request notifications.
//
// Dispatchers implement service.Notifier. Delivery is best effort: the
// service logs a failed send and the sweeper retries reminders on its next
// cycle.
package notify
