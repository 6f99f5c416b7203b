package build

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/patrickspencer/buildbat/internal/notifier"
	"github.com/patrickspencer/buildbat/internal/realtime"
	"github.com/patrickspencer/buildbat/internal/store"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// History writes every notifier record to the delivery history.
type History struct {
	Store store.DeliveryStore
}

// Observe implements notifier.Observer. Storage errors are logged only.
func (h *History) Observe(ctx context.Context, rec notifier.Record) {
	if h.Store == nil {
		return
	}
	d := &store.Delivery{
		JobName:    rec.Job,
		BuildName:  rec.Build,
		BuildURL:   rec.BuildURL,
		Action:     string(rec.Action),
		Trigger:    string(rec.Trigger),
		Outcome:    string(rec.Outcome),
		Rooms:      rec.Rooms,
		Message:    rec.Message,
		Detail:     rec.Detail,
		DurationMs: rec.Duration.Milliseconds(),
		CreatedAt:  rec.At,
	}
	if err := h.Store.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		logrus.Errorf("[build] record delivery for %s: %v", rec.Job, err)
	}
}

func notificationEvent(rec notifier.Record, buildID string) realtime.Event {
	evt := realtime.Event{
		JobName: rec.Job,
		BuildID: buildID,
		Trigger: string(rec.Trigger),
		Outcome: string(rec.Outcome),
		Detail:  rec.Detail,
	}
	switch {
	case rec.Action == plugin.ActionAddMachine:
		evt.Type = realtime.TypeMachineProvisioned
	case rec.Outcome == plugin.OutcomeDelivered:
		evt.Type = realtime.TypeNotificationSent
	case rec.Outcome == plugin.OutcomeRejected:
		evt.Type = realtime.TypeNotificationRejected
	default:
		evt.Type = realtime.TypeNotificationFailed
	}
	return evt
}
