package http

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/transfer"
	"salvi/app/internal/wiki"
)

// Extension contributes optional routes to the server.
type Extension interface {
	Register(s *Server) error
}

type extensionFunc func(s *Server) error

func (f extensionFunc) Register(s *Server) error {
	return f(s)
}

var extensionRegistry = map[string]Extension{
	"importexport": extensionFunc(registerImportExport),
	"sync":         extensionFunc(registerSync),
}

// ExtensionNames lists the extensions that can be enabled.
func ExtensionNames() []string {
	names := make([]string, 0, len(extensionRegistry))
	for name := range extensionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) registerExtensions(names []string) error {
	enabled := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := enabled[name]; dup {
			continue
		}

		ext, ok := extensionRegistry[name]
		if !ok {
			return eris.Errorf("unknown extension %q (available: %s)", raw, strings.Join(ExtensionNames(), ", "))
		}
		if err := ext.Register(s); err != nil {
			return eris.Wrapf(err, "enabling extension %s", name)
		}
		enabled[name] = struct{}{}

		if s.logger != nil {
			s.logger.WithField("extension", name).Info("extension enabled")
		}
	}
	return nil
}

type exportInput struct {
	Body struct {
		Selectors    []string `json:"selectors" minItems:"1" doc:"One of +<id>, #<tag>, /<slug>/ or a page title per entry"`
		WithHistory  bool     `json:"history,omitempty"`
		IncludeUsers bool     `json:"users,omitempty"`
	}
}

type exportOutput struct {
	Body *transfer.Document
}

type importInput struct {
	OverwriteSlugs bool `query:"overwrite_slugs"`
	RawBody        []byte
}

type importOutput struct {
	Body transfer.Report
}

func registerImportExport(s *Server) error {
	if s.exporter == nil || s.importer == nil {
		return eris.New("exporter and importer are required")
	}

	huma.Post(s.api, "/api/export", s.exportHandler, func(op *huma.Operation) {
		op.Summary = "Export pages"
		op.Tags = []string{"transfer"}
	})
	huma.Post(s.api, "/api/import", s.importHandler, func(op *huma.Operation) {
		op.Summary = "Import an export document"
		op.Tags = []string{"transfer"}
	})
	return nil
}

func (s *Server) exportHandler(ctx context.Context, input *exportInput) (*exportOutput, error) {
	selectors := transfer.ParseSelectors(strings.Join(input.Body.Selectors, "\n"))

	doc, err := s.exporter.Export(ctx, IdentityFromContext(ctx), selectors, transfer.ExportOptions{
		IncludeHistory: input.Body.WithHistory,
		IncludeUsers:   input.Body.IncludeUsers,
	})
	if err != nil {
		return nil, s.apiError(ctx, err, "exporting pages", logrus.Fields{"selectors": len(selectors)})
	}
	return &exportOutput{Body: doc}, nil
}

func (s *Server) importHandler(ctx context.Context, input *importInput) (*importOutput, error) {
	doc, err := transfer.Decode(bytes.NewReader(input.RawBody))
	if err != nil {
		return nil, s.apiError(ctx, err, "decoding import", nil)
	}

	report, err := s.importer.Import(ctx, IdentityFromContext(ctx), doc, transfer.ImportOptions{
		OverwriteSlugs: input.OverwriteSlugs,
	})
	if err != nil {
		return nil, s.apiError(ctx, err, "importing pages", logrus.Fields{"pages": len(doc.Pages)})
	}
	return &importOutput{Body: report}, nil
}

type changedSinceInput struct {
	Timestamp string `path:"ts" doc:"Unix time in seconds, fractions allowed"`
}

type changedSinceOutput struct {
	Body struct {
		IDs    []uint `json:"ids"`
		Status string `json:"status"`
	}
}

func registerSync(s *Server) error {
	huma.Get(s.api, "/changed-since/{ts}", s.changedSinceHandler, func(op *huma.Operation) {
		op.Summary = "List pages touched since a timestamp"
		op.Tags = []string{"sync"}
	})
	return nil
}

func (s *Server) changedSinceHandler(ctx context.Context, input *changedSinceInput) (*changedSinceOutput, error) {
	seconds, err := strconv.ParseFloat(input.Timestamp, 64)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("timestamp must be a number of seconds")
	}

	ids, err := s.wiki.ChangedSince(ctx, wiki.FromUnixSeconds(seconds))
	if err != nil {
		return nil, s.apiError(ctx, err, "listing changed pages", logrus.Fields{"since": seconds})
	}

	out := &changedSinceOutput{}
	out.Body.IDs = ids
	if out.Body.IDs == nil {
		out.Body.IDs = []uint{}
	}
	out.Body.Status = "ok"
	return out, nil
}
