package notifier

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/patrickspencer/buildbat/internal/credentials"
	"github.com/patrickspencer/buildbat/internal/template"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

// DefaultText is the message used when a trigger has no template.
func DefaultText(trigger plugin.Trigger, name string) string {
	switch trigger {
	case plugin.TriggerStart:
		return "Starting " + name
	case plugin.TriggerFailure:
		return name + " has failed"
	default:
		return name + " has succeeded"
	}
}

// ReferenceURL is the link appended to a message. Start messages point at
// the live console.
func ReferenceURL(trigger plugin.Trigger, absoluteURL string) string {
	if trigger == plugin.TriggerStart {
		return absoluteURL + "console"
	}
	return absoluteURL
}

// Compose builds the final message for trigger. A template that cannot be
// resolved is sent as written, with one line logged to out.
func Compose(trigger plugin.Trigger, tmpl string, build plugin.Build, addURL bool, out io.Writer) string {
	var text string
	if credentials.IsBlank(tmpl) {
		text = DefaultText(trigger, build.DisplayName())
	} else {
		resolved, err := template.ResolveFrom(tmpl, build)
		if err != nil {
			var se *template.SubstitutionError
			if errors.As(err, &se) {
				logLine(out, "Unable to replace all %s", se.Stage)
			} else {
				logLine(out, "Unable to replace all variables: %v", err)
			}
		}
		text = resolved
	}
	if addURL {
		text += " " + ReferenceURL(trigger, build.AbsoluteURL())
	}
	return text
}

// send performs one delivery and writes its single result line to out. A
// panicking deliverer is reported like any other delivery error.
func send(ctx context.Context, d plugin.Deliverer, req plugin.Request, out io.Writer) (outcome plugin.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{Cause: errors.Errorf("deliverer panic: %v", r)}
			logLine(out, "Error Messaging Spark Room: %v", err)
			outcome = plugin.OutcomeFailed
		}
	}()

	ok, derr := d.Deliver(ctx, req)
	if derr != nil {
		logLine(out, "Error Messaging Spark Room: %v", derr)
		return plugin.OutcomeFailed, &DeliveryError{Cause: derr}
	}
	if !ok {
		logLine(out, "Unable to message Spark Room(s)")
		return plugin.OutcomeFailed, &DeliveryError{Cause: errNotConfirmed}
	}
	logLine(out, "Message to Spark Room(s) sent: %s", req.Message)
	return plugin.OutcomeDelivered, nil
}

func logLine(out io.Writer, format string, args ...interface{}) {
	if out == nil {
		return
	}
	fmt.Fprintf(out, format+"\n", args...)
}
