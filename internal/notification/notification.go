// Package notification turns bus events into best-effort emails. Nothing
// here may fail a ledger operation; errors stop at the log.
package notification

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tally/internal/events"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	"github.com/smallbiznis/tally/internal/notification/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sender delivers one event to a human. Fire-and-forget.
type Sender interface {
	Send(ctx context.Context, event events.Event) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Email    email.Provider
	Identity identitydomain.Service
}

type EmailSender struct {
	log      *zap.Logger
	email    email.Provider
	identity identitydomain.Service
}

func NewEmailSender(p Params) Sender {
	return &EmailSender{
		log:      p.Log.Named("notification"),
		email:    p.Email,
		identity: p.Identity,
	}
}

var subjects = map[string]string{
	events.EventBillingPaid:     "Payment received",
	events.EventBillingFailed:   "Payment failed",
	events.EventSubscriptionNew: "Subscription created",
	events.EventBusinessActive:  "Your business is active",
	events.EventOrderSuccess:    "Order confirmed",
}

func (s *EmailSender) Send(ctx context.Context, event events.Event) error {
	subject, ok := subjects[event.Type]
	if !ok {
		return nil
	}

	recipient, err := s.recipient(ctx, event)
	if err != nil {
		return err
	}
	if recipient == nil {
		return nil
	}

	body := fmt.Sprintf("<p>%s</p><p>%s %s</p>", subject, event.Entity, event.EntityID)
	return s.email.Send(ctx, []string{recipient.Email}, subject, body)
}

func (s *EmailSender) recipient(ctx context.Context, event events.Event) (*identitydomain.User, error) {
	for _, key := range []string{"recipient_id", "paid_by", "buyer_id"} {
		raw, ok := event.Data[key].(string)
		if !ok || raw == "" {
			continue
		}
		id, err := snowflake.ParseString(raw)
		if err != nil {
			continue
		}
		return s.identity.GetUser(ctx, id)
	}
	return nil, nil
}

// Register subscribes the sender to the ledger events worth a mail.
func Register(bus *events.Bus, sender Sender) {
	for eventType := range subjects {
		bus.Subscribe(eventType, sender.Send)
	}
}

var Module = fx.Module("notification",
	fx.Provide(NewEmailSender),
	fx.Invoke(Register),
)
