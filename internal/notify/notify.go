// Package notify pushes server-initiated events to a user's live
// connections.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/trblnoew/realtime-chat-server/internal/gateway"
	"github.com/trblnoew/realtime-chat-server/internal/metrics"
)

// Notifier fans an event out across every connection a user currently
// holds. Users without connections are silently skipped.
type Notifier struct {
	hub    *gateway.Hub
	logger zerolog.Logger
}

func New(hub *gateway.Hub, logger zerolog.Logger) *Notifier {
	return &Notifier{
		hub:    hub,
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// DeliverToUser sends the event to all of userID's connections and
// reports how many received it.
func (n *Notifier) DeliverToUser(userID, event string, payload any) int {
	connIDs := n.hub.Registry().ConnectionsFor(userID)
	if len(connIDs) == 0 {
		return 0
	}

	frame := gateway.NewFrame(event, payload)
	delivered := 0
	for _, connID := range connIDs {
		if n.hub.SendTo(connID, frame) {
			delivered++
		}
	}

	if delivered > 0 {
		metrics.NotificationsDelivered.WithLabelValues(event).Add(float64(delivered))
		n.logger.Debug().
			Str("user_id", userID).
			Str("event", event).
			Int("connections", delivered).
			Msg("notification delivered")
	}
	return delivered
}
