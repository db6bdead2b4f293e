package transfer

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/permission"
	"salvi/app/internal/wiki"
)

// ImportOptions tunes an import.
type ImportOptions struct {
	// OverwriteSlugs takes a slug away from an existing page. Otherwise the
	// imported page is created without a slug.
	OverwriteSlugs bool
}

// Report summarises an import.
type Report struct {
	Pages     int `json:"pages"`
	Revisions int `json:"revisions"`
	Failed    int `json:"failed"`
}

// ImportRecorder receives one event per imported page.
type ImportRecorder interface {
	PageImported(ok bool)
}

// Importer replays export documents into the wiki.
type Importer struct {
	service  *wiki.Service
	recorder ImportRecorder
	logger   *logrus.Logger
}

// NewImporter wires an importer. recorder may be nil.
func NewImporter(service *wiki.Service, recorder ImportRecorder, logger *logrus.Logger) (*Importer, error) {
	if service == nil {
		return nil, eris.New("wiki service is required")
	}

	return &Importer{service: service, recorder: recorder, logger: logger}, nil
}

// Decode reads an export document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &wiki.ValidationError{Field: "document", Reason: "malformed JSON: " + err.Error()}
	}
	return &doc, nil
}

// Import restores every page of doc. Failing pages are logged and counted;
// they never abort the batch. Only admins may import.
func (i *Importer) Import(ctx context.Context, identity permission.Identity, doc *Document, opts ImportOptions) (Report, error) {
	if !identity.Admin || identity.Guest() {
		return Report{}, eris.Wrap(wiki.ErrForbidden, "importing pages requires an admin")
	}
	if doc == nil {
		return Report{}, eris.New("document is nil")
	}

	var report Report
	for idx, record := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "import cancelled")
		}

		input, err := restoreInput(record, opts)
		if err == nil {
			var count int
			_, count, err = i.service.Restore(ctx, identity, input)
			if err == nil {
				report.Pages++
				report.Revisions += count
				i.record(true)
				continue
			}
		}

		report.Failed++
		i.record(false)
		if i.logger != nil {
			i.logger.WithFields(logrus.Fields{
				"component": "transfer",
				"index":     idx,
				"title":     record.Title,
				"error":     err.Error(),
			}).Warn("skipping page during import")
		}
	}

	if i.logger != nil {
		i.logger.WithFields(logrus.Fields{
			"component": "transfer",
			"pages":     report.Pages,
			"revisions": report.Revisions,
			"failed":    report.Failed,
		}).Info("import finished")
	}

	return report, nil
}

func (i *Importer) record(ok bool) {
	if i.recorder != nil {
		i.recorder.PageImported(ok)
	}
}

func restoreInput(record PageRecord, opts ImportOptions) (wiki.RestoreInput, error) {
	history := make([]RevisionRecord, len(record.History))
	copy(history, record.History)
	sort.SliceStable(history, func(a, b int) bool { return history[a].Timestamp > history[b].Timestamp })

	input := wiki.RestoreInput{
		Title:            record.Title,
		Tags:             record.Tags,
		IsRedirect:       record.IsRedirect,
		IsLocked:         record.IsLocked,
		IsContentWarning: record.IsCW,
		OverwriteSlug:    opts.OverwriteSlugs,
	}
	if record.URL != nil {
		input.Slug = strings.TrimSpace(*record.URL)
	}
	if record.Calendar != nil {
		calendar := wiki.FromUnixSeconds(*record.Calendar)
		input.Calendar = &calendar
	}

	for _, rev := range history {
		if got := utf8.RuneCountInString(rev.Text); got != rev.Length {
			return wiki.RestoreInput{}, eris.Wrapf(wiki.ErrIntegrity, "revision length %d does not match %d", got, rev.Length)
		}
		input.Revisions = append(input.Revisions, wiki.RestoreRevision{
			Text:      rev.Text,
			Comment:   rev.Comment,
			Timestamp: wiki.FromUnixSeconds(rev.Timestamp),
		})
	}

	return input, nil
}
