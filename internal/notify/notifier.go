// Package notify forwards market lifecycle events to chat channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChiefWoods/prediction/internal/domain"
)

// Sender delivers one formatted message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats events and fans them out to every sender. When an event
// allow-list is configured, other event types are dropped.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events slice allows every type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// NotifyEvent formats ev and delivers it unless its type is filtered out.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Format renders ev as a title and a short body.
func Format(ev domain.Event) (title, message string) {
	var fields map[string]any
	_ = json.Unmarshal(ev.Data, &fields)
	get := func(k string) string {
		if v, ok := fields[k]; ok {
			return fmt.Sprint(v)
		}
		return "?"
	}
	market := "-"
	if ev.Market != nil {
		market = ev.Market.Hex()
	}

	switch ev.Type {
	case domain.EventMarketCreated:
		return "Market created", fmt.Sprintf("%s\nresolves at %s, target %s\n%s",
			get("title"), get("resolve_ts"), get("target_price"), market)
	case domain.EventMarketSettled:
		return "Market settled", fmt.Sprintf("%s settled %s at price %s", market, get("state"), get("price"))
	case domain.EventSharesTraded:
		return "Trade", fmt.Sprintf("%s %s %s shares in %s (fee %s)",
			get("authority"), get("direction"), get("shares"), market, get("fee"))
	case domain.EventWinningsClaimed:
		return "Winnings claimed", fmt.Sprintf("%s claimed %s from %s", get("authority"), get("payout"), market)
	case domain.EventFeeUpdated:
		return "Fee updated", fmt.Sprintf("fee is now %s bps", get("fee_bps"))
	default:
		return string(ev.Type), fmt.Sprintf("market %s", market)
	}
}
