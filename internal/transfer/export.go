package transfer

import (
	"context"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/permission"
	"salvi/app/internal/revision"
	"salvi/app/internal/wiki"
)

// ExportOptions tunes an export.
type ExportOptions struct {
	// IncludeHistory exports every revision; otherwise only the latest one.
	IncludeHistory bool
	// IncludeUsers records revision authors and fills Document.Users.
	IncludeUsers bool
}

// Exporter builds export documents.
type Exporter struct {
	pages     *wiki.Repository
	ledger    *revision.Ledger
	perms     *permission.Engine
	directory *permission.Directory
	logger    *logrus.Logger
}

// NewExporter wires an exporter.
func NewExporter(pages *wiki.Repository, ledger *revision.Ledger, perms *permission.Engine, directory *permission.Directory, logger *logrus.Logger) (*Exporter, error) {
	switch {
	case pages == nil:
		return nil, eris.New("page repository is required")
	case ledger == nil:
		return nil, eris.New("revision ledger is required")
	case perms == nil:
		return nil, eris.New("permission engine is required")
	case directory == nil:
		return nil, eris.New("user directory is required")
	}

	return &Exporter{pages: pages, ledger: ledger, perms: perms, directory: directory, logger: logger}, nil
}

// Export collects the selected pages readable by identity, ordered by id.
func (e *Exporter) Export(ctx context.Context, identity permission.Identity, selectors []Selector, opts ExportOptions) (*Document, error) {
	if len(selectors) == 0 {
		return nil, &wiki.ValidationError{Field: "selectors", Reason: "the list is empty"}
	}

	pages, err := e.selectPages(ctx, selectors)
	if err != nil {
		return nil, err
	}

	doc := &Document{Pages: []PageRecord{}, Users: map[string]UserRecord{}}
	authors := make(map[uint]struct{})

	for i := range pages {
		page := &pages[i]

		bits, err := e.perms.Effective(ctx, identity, page.Target())
		if err != nil {
			return nil, err
		}
		if !bits.Has(permission.Read) {
			continue
		}

		record, err := e.record(ctx, page, opts, authors)
		if err != nil {
			e.logError(logrus.Fields{"page_id": page.ID}, err, "exporting page")
			return nil, eris.Wrapf(err, "exporting page %d", page.ID)
		}
		doc.Pages = append(doc.Pages, record)
	}

	if opts.IncludeUsers && len(authors) > 0 {
		ids := make([]uint, 0, len(authors))
		for id := range authors {
			ids = append(ids, id)
		}
		names, err := e.directory.Names(ctx, ids)
		if err != nil {
			return nil, err
		}
		for id, name := range names {
			doc.Users[strconv.FormatUint(uint64(id), 10)] = UserRecord{Name: name}
		}
	}

	return doc, nil
}

func (e *Exporter) record(ctx context.Context, page *wiki.Page, opts ExportOptions, authors map[uint]struct{}) (PageRecord, error) {
	record := PageRecord{
		Title:      page.Title,
		URL:        page.Slug,
		IsRedirect: page.IsRedirect,
		IsLocked:   page.IsLocked,
		IsCW:       page.IsContentWarning,
		History:    []RevisionRecord{},
	}
	if page.Calendar != nil {
		seconds := wiki.UnixSeconds(*page.Calendar)
		record.Calendar = &seconds
	}

	tags, err := e.pages.Tags(ctx, page.ID)
	if err != nil {
		return PageRecord{}, err
	}
	record.Tags = tags
	if record.Tags == nil {
		record.Tags = []string{}
	}

	var revs []revision.Revision
	if opts.IncludeHistory {
		if revs, err = e.ledger.History(ctx, page.ID); err != nil {
			return PageRecord{}, err
		}
	} else {
		latest, err := e.ledger.Latest(ctx, page.ID)
		if err != nil {
			return PageRecord{}, err
		}
		if latest != nil {
			revs = []revision.Revision{*latest}
		}
	}

	for i := range revs {
		rev := &revs[i]
		text, err := e.ledger.Text(ctx, rev)
		if err != nil {
			return PageRecord{}, err
		}

		entry := RevisionRecord{
			Text:      text,
			Timestamp: wiki.UnixSeconds(rev.CreatedAt),
			Comment:   rev.Comment,
			Length:    rev.Length,
		}
		if opts.IncludeUsers && rev.AuthorID != nil {
			author := *rev.AuthorID
			entry.User = &author
			authors[author] = struct{}{}
		}
		record.History = append(record.History, entry)
	}

	return record, nil
}

func (e *Exporter) selectPages(ctx context.Context, selectors []Selector) ([]wiki.Page, error) {
	seen := make(map[uint]wiki.Page)

	for _, selector := range selectors {
		var matched []wiki.Page

		switch selector.Kind {
		case SelectByID:
			id, err := strconv.ParseUint(selector.Value, 10, 64)
			if err != nil {
				continue
			}
			page, err := e.pages.Get(ctx, uint(id))
			if err != nil {
				return nil, err
			}
			if page != nil {
				matched = []wiki.Page{*page}
			}
		case SelectByTag:
			pages, err := e.pages.ByTag(ctx, wiki.NormalizeTag(selector.Value), -1, -1)
			if err != nil {
				return nil, err
			}
			matched = pages
		case SelectBySlug:
			if selector.Value == "" {
				continue
			}
			page, err := e.pages.GetBySlug(ctx, selector.Value)
			if err != nil {
				return nil, err
			}
			if page != nil {
				matched = []wiki.Page{*page}
			}
		case SelectByTitle:
			pages, err := e.pages.ByTitle(ctx, selector.Value)
			if err != nil {
				return nil, err
			}
			matched = pages
		}

		for _, page := range matched {
			seen[page.ID] = page
		}
	}

	pages := make([]wiki.Page, 0, len(seen))
	for _, page := range seen {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })

	return pages, nil
}

func (e *Exporter) logError(fields logrus.Fields, err error, message string) {
	if e.logger == nil {
		return
	}

	entry := e.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
