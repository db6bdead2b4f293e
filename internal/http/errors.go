package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	stdhttp "net/http"
	"strconv"

	"github.com/a-h/templ"
	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/http/templates"
	"salvi/app/internal/wiki"
)

const (
	htmlContentType      = "text/html; charset=utf-8"
	errorFallbackMessage = "We couldn't process your request right now."
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Location    string `header:"Location"`
	Body        []byte
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func redirectResponse(location string) *htmlResponse {
	response := newHTMLResponse(stdhttp.StatusFound, nil)
	response.Location = location
	return response
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			code := strconv.Itoa(status)
			op.Responses[code] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}

// classifyError maps domain errors onto an HTTP status and a message safe to
// show. Only unexpected failures map to 500.
func classifyError(err error) (int, string) {
	var validation *wiki.ValidationError
	switch {
	case err == nil:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	case errors.As(err, &validation):
		return stdhttp.StatusBadRequest, validation.Error()
	case eris.Is(err, wiki.ErrForbidden):
		return stdhttp.StatusForbidden, "You don't have permission to do that."
	case eris.Is(err, wiki.ErrNotFound):
		return stdhttp.StatusNotFound, "We couldn't find that page."
	case eris.Is(err, wiki.ErrNoPages):
		return stdhttp.StatusNotFound, "There are no pages yet. Create the first one."
	case eris.Is(err, wiki.ErrConflict):
		return stdhttp.StatusConflict, "Someone else changed this first. Reload and try again."
	case eris.Is(err, wiki.ErrIntegrity):
		return stdhttp.StatusUnprocessableEntity, "The submitted data is inconsistent."
	default:
		return stdhttp.StatusInternalServerError, errorFallbackMessage
	}
}

// apiError turns a domain error into a huma problem response.
func (s *Server) apiError(ctx context.Context, err error, message string, fields logrus.Fields) error {
	status, detail := classifyError(err)
	if status == stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, message, fields)
		return huma.Error500InternalServerError(detail)
	}
	if status == stdhttp.StatusBadRequest {
		status = stdhttp.StatusUnprocessableEntity
	}
	return huma.NewError(status, detail)
}

// pageError renders the HTML error page for a domain error.
func (s *Server) pageError(ctx context.Context, err error, message string, fields logrus.Fields) (*htmlResponse, error) {
	status, detail := classifyError(err)
	if status == stdhttp.StatusInternalServerError {
		s.recordError(ctx, err, message, fields)
	}
	return s.renderErrorResponse(ctx, status, detail)
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))
	template := templates.ErrorPage(templates.ErrorPageData{
		Site:        s.site,
		StatusLabel: label,
		Message:     message,
	})

	body, err := renderComponent(ctx, template)
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, html.EscapeString(message)))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}

func renderComponent(ctx context.Context, component templ.Component) ([]byte, error) {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return nil, eris.Wrap(err, "rendering component")
	}
	return buf.Bytes(), nil
}
