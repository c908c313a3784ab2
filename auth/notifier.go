package auth

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/trustcore/trustcore/principal"
)

// EventKind identifies the account change that triggered a notification.
type EventKind string

const (
	EventRegistered    EventKind = "registered"
	EventProfileUpdate EventKind = "profile_update"
	EventSecretChange  EventKind = "secret_change"
	EventDeactivated   EventKind = "deactivated"
)

// Event describes an account change worth telling the principal about.
type Event struct {
	Kind      EventKind
	Principal *principal.Principal
}

// Notifier delivers account change notifications. Delivery is best
// effort: the mutation has already been committed when Notify runs, and
// a failed notification never rolls it back.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes notifications to the log. It stands in where no
// mail or messaging transport is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier initializes a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the event.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.log.Info().
		Str("event", string(event.Kind)).
		Str("principalID", event.Principal.ID).
		Str("login", event.Principal.Login).
		Msg("account notification")
	return nil
}
