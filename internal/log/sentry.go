package log

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const defaultFlushTimeout = 2 * time.Second

// SentrySettings configures error reporting for the wiki server.
type SentrySettings struct {
	DSN         string
	Environment string
	Release     string
	// IdentityHeader is removed from reported requests; it carries user names.
	IdentityHeader string
	FlushTimeout   time.Duration
}

// InitSentry creates a hub for the configured DSN and forwards error-level log
// entries to it. Without a DSN it returns a nil hub and a no-op flush.
func InitSentry(logger *logrus.Logger, settings SentrySettings) (*sentry.Hub, func(), error) {
	if settings.DSN == "" {
		return nil, func() {}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         settings.DSN,
		Environment: settings.Environment,
		Release:     settings.Release,
		BeforeSend:  scrubIdentity(settings.IdentityHeader),
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "creating sentry client")
	}

	scope := sentry.NewScope()
	scope.SetTag("service", "salvi")
	hub := sentry.NewHub(client, scope)

	if logger != nil {
		logger.AddHook(sentrylogrus.NewLogHookFromClient([]logrus.Level{
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		}, client))
	}

	timeout := settings.FlushTimeout
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}

	return hub, func() { hub.Flush(timeout) }, nil
}

func scrubIdentity(header string) func(*sentry.Event, *sentry.EventHint) *sentry.Event {
	canonical := http.CanonicalHeaderKey(header)
	return func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		if canonical == "" || event == nil || event.Request == nil {
			return event
		}
		for key := range event.Request.Headers {
			if http.CanonicalHeaderKey(key) == canonical {
				delete(event.Request.Headers, key)
			}
		}
		return event
	}
}
