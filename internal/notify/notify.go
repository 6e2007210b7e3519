package notify

// Notifier receives fire-and-forget events for the dashboard/analytics
// feed. Delivery is best-effort; the edit pipeline never blocks on it.
type Notifier interface {
	Publish(event string, data any)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(string, any) {}
