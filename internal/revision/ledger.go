package revision

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salvi/app/internal/content"
)

// Revision is one immutable snapshot of a page's text.
type Revision struct {
	ID        uint      `gorm:"primaryKey"`
	PageID    uint      `gorm:"not null;index:idx_revisions_page_created,priority:1"`
	AuthorID  *uint     `gorm:"index"`
	Comment   string    `gorm:"size:1024;not null;default:''"`
	BlobID    uint      `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;index:idx_revisions_page_created,priority:2"`
	Length    int       `gorm:"not null"`
}

// TableName defines the table name for the Revision model.
func (Revision) TableName() string {
	return "revisions"
}

// AppendInput describes a revision to be added to a page's history.
type AppendInput struct {
	PageID    uint
	AuthorID  *uint
	Comment   string
	Text      string
	Timestamp time.Time
}

// Ledger stores the append-only revision history of every page.
type Ledger struct {
	db      *gorm.DB
	content *content.Store
	logger  *logrus.Logger
}

// NewLedger wires a ledger over the provided content store.
func NewLedger(db *gorm.DB, store *content.Store, logger *logrus.Logger) (*Ledger, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}
	if store == nil {
		return nil, eris.New("content store is required")
	}

	return &Ledger{db: db, content: store, logger: logger}, nil
}

// WithTx returns a copy of the ledger whose reads and writes run in tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx, content: l.content.WithTx(tx), logger: l.logger}
}

// Append stores the text and records a new revision pointing at it.
func (l *Ledger) Append(ctx context.Context, input AppendInput) (*Revision, error) {
	if input.PageID == 0 {
		return nil, eris.New("page id is required")
	}

	ref, err := l.content.Store(ctx, input.Text)
	if err != nil {
		return nil, eris.Wrapf(err, "storing text for page %d", input.PageID)
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	rev := &Revision{
		PageID:    input.PageID,
		AuthorID:  input.AuthorID,
		Comment:   input.Comment,
		BlobID:    uint(ref),
		CreatedAt: timestamp.UTC(),
		Length:    utf8.RuneCountInString(input.Text),
	}

	if err := l.db.WithContext(ctx).Create(rev).Error; err != nil {
		l.logError(logrus.Fields{"page_id": input.PageID}, err, "inserting revision")
		return nil, eris.Wrapf(err, "inserting revision for page %d", input.PageID)
	}

	return rev, nil
}

// Latest returns the newest revision of the page, or nil when it has none.
func (l *Ledger) Latest(ctx context.Context, pageID uint) (*Revision, error) {
	var rev Revision
	err := l.ordered(ctx).Where("page_id = ?", pageID).First(&rev).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		l.logError(logrus.Fields{"page_id": pageID}, err, "fetching latest revision")
		return nil, eris.Wrapf(err, "fetching latest revision for page %d", pageID)
	}

	return &rev, nil
}

// History lists every revision of the page, newest first.
func (l *Ledger) History(ctx context.Context, pageID uint) ([]Revision, error) {
	var revs []Revision
	if err := l.ordered(ctx).Where("page_id = ?", pageID).Find(&revs).Error; err != nil {
		l.logError(logrus.Fields{"page_id": pageID}, err, "listing revisions")
		return nil, eris.Wrapf(err, "listing revisions for page %d", pageID)
	}

	return revs, nil
}

// Get returns the revision with the given id, or nil when it does not exist.
func (l *Ledger) Get(ctx context.Context, id uint) (*Revision, error) {
	var rev Revision
	err := l.db.WithContext(ctx).First(&rev, id).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		l.logError(logrus.Fields{"revision_id": id}, err, "fetching revision")
		return nil, eris.Wrapf(err, "fetching revision %d", id)
	}

	return &rev, nil
}

// Text resolves the revision's content.
func (l *Ledger) Text(ctx context.Context, rev *Revision) (string, error) {
	if rev == nil {
		return "", eris.New("revision is nil")
	}

	text, err := l.content.Retrieve(ctx, content.Ref(rev.BlobID))
	if err != nil {
		return "", eris.Wrapf(err, "reading text of revision %d", rev.ID)
	}

	return text, nil
}

// Count returns the number of revisions across all pages.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&Revision{}).Count(&count).Error; err != nil {
		l.logError(nil, err, "counting revisions")
		return 0, eris.Wrap(err, "counting revisions")
	}

	return count, nil
}

// LatestLengths maps every page with history to the length of its latest revision.
func (l *Ledger) LatestLengths(ctx context.Context) (map[uint]int, error) {
	type row struct {
		PageID uint
		Length int
	}

	var rows []row
	err := l.db.WithContext(ctx).Raw(`
		SELECT r.page_id, r.length FROM revisions r
		WHERE r.id = (
			SELECT r2.id FROM revisions r2
			WHERE r2.page_id = r.page_id
			ORDER BY r2.created_at DESC, r2.id DESC
			LIMIT 1
		)`).Scan(&rows).Error
	if err != nil {
		l.logError(nil, err, "collecting latest revision lengths")
		return nil, eris.Wrap(err, "collecting latest revision lengths")
	}

	lengths := make(map[uint]int, len(rows))
	for _, r := range rows {
		lengths[r.PageID] = r.Length
	}

	return lengths, nil
}

func (l *Ledger) ordered(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
}

func (l *Ledger) logError(fields logrus.Fields, err error, message string) {
	if l.logger == nil {
		return
	}

	entry := l.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
