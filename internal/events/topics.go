package events

// Topics emitted over a checkout session's lifetime.
const (
	TopicStatusChanged = "checkout.status_changed"
	TopicSucceeded     = "checkout.succeeded"
	TopicFailed        = "checkout.failed"
	TopicClosed        = "checkout.closed"
)
