package wiki

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists pages, their tags and their properties.
type Repository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*Repository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Repository{db: db, logger: logger}, nil
}

// WithTx returns a copy of the repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx, logger: r.logger}
}

// Get returns the page with the given id or nil when not found.
func (r *Repository) Get(ctx context.Context, id uint) (*Page, error) {
	var page Page
	err := r.db.WithContext(ctx).First(&page, id).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"page_id": id}, err, "fetching page by id")
		return nil, eris.Wrapf(err, "fetching page by id: %d", id)
	}

	return &page, nil
}

// GetBySlug returns the page for the provided slug or nil when not found.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Page, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, eris.New("slug is required")
	}

	var page Page
	err := r.db.WithContext(ctx).First(&page, "slug = ?", trimmed).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"slug": trimmed}, err, "fetching page by slug")
		return nil, eris.Wrapf(err, "fetching page by slug: %s", trimmed)
	}

	return &page, nil
}

// ByIDs returns the pages with the given ids ordered by id.
func (r *Repository) ByIDs(ctx context.Context, ids []uint) ([]Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var pages []Page
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&pages).Error; err != nil {
		r.logError(nil, err, "fetching pages by id")
		return nil, eris.Wrap(err, "fetching pages by id")
	}

	return pages, nil
}

// Save inserts the page when it has no id row yet and updates it otherwise.
func (r *Repository) Save(ctx context.Context, page *Page) error {
	if page == nil {
		return eris.New("page is nil")
	}

	page.Touched = page.Touched.UTC()
	if err := r.db.WithContext(ctx).Save(page).Error; err != nil {
		r.logError(logrus.Fields{"page_id": page.ID}, err, "saving page")
		return eris.Wrapf(err, "saving page: %d", page.ID)
	}

	return nil
}

// Create inserts a new page, honouring a preset id.
func (r *Repository) Create(ctx context.Context, page *Page) error {
	if page == nil {
		return eris.New("page is nil")
	}

	page.Touched = page.Touched.UTC()
	if err := r.db.WithContext(ctx).Create(page).Error; err != nil {
		r.logError(logrus.Fields{"page_id": page.ID}, err, "creating page")
		return eris.Wrapf(err, "creating page: %s", page.Title)
	}

	return nil
}

// SlugOwner returns the id of the page holding slug, or zero.
func (r *Repository) SlugOwner(ctx context.Context, slug string) (uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&Page{}).Where("slug = ?", slug).Limit(1).Pluck("id", &ids).Error; err != nil {
		r.logError(logrus.Fields{"slug": slug}, err, "checking slug availability")
		return 0, eris.Wrapf(err, "checking slug availability: %s", slug)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// ClearSlug removes the slug from a page.
func (r *Repository) ClearSlug(ctx context.Context, pageID uint) error {
	if err := r.db.WithContext(ctx).Model(&Page{}).Where("id = ?", pageID).Update("slug", nil).Error; err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "clearing slug")
		return eris.Wrapf(err, "clearing slug of page %d", pageID)
	}
	return nil
}

// Tags lists the tag names of a page in alphabetical order.
func (r *Repository) Tags(ctx context.Context, pageID uint) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&Tag{}).
		Where("page_id = ?", pageID).
		Order("name ASC").
		Pluck("name", &names).Error
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "listing tags")
		return nil, eris.Wrapf(err, "listing tags of page %d", pageID)
	}

	return names, nil
}

// ChangeTags replaces the tag set of a page with tags, touching only the
// difference. Calling it twice with the same set is a no-op.
func (r *Repository) ChangeTags(ctx context.Context, pageID uint, tags []string) error {
	current, err := r.Tags(ctx, pageID)
	if err != nil {
		return err
	}

	wanted := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		wanted[tag] = struct{}{}
	}

	var removed []string
	for _, tag := range current {
		if _, keep := wanted[tag]; keep {
			delete(wanted, tag)
			continue
		}
		removed = append(removed, tag)
	}

	if len(removed) > 0 {
		if err := r.db.WithContext(ctx).Where("page_id = ? AND name IN ?", pageID, removed).Delete(&Tag{}).Error; err != nil {
			r.logError(logrus.Fields{"page_id": pageID}, err, "removing tags")
			return eris.Wrapf(err, "removing tags of page %d", pageID)
		}
	}

	if len(wanted) == 0 {
		return nil
	}

	added := make([]Tag, 0, len(wanted))
	for _, tag := range tags {
		if _, ok := wanted[tag]; ok {
			added = append(added, Tag{PageID: pageID, Name: tag})
		}
	}

	if err := r.db.WithContext(ctx).Create(&added).Error; err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "adding tags")
		return eris.Wrapf(err, "adding tags of page %d", pageID)
	}

	return nil
}

// ByTitle lists pages whose title matches exactly.
func (r *Repository) ByTitle(ctx context.Context, title string) ([]Page, error) {
	var pages []Page
	if err := r.db.WithContext(ctx).Where("title = ?", title).Order("id ASC").Find(&pages).Error; err != nil {
		r.logError(logrus.Fields{"title": title}, err, "listing pages by title")
		return nil, eris.Wrapf(err, "listing pages by title: %s", title)
	}

	return pages, nil
}

// Recent lists pages by touched time, newest first.
func (r *Repository) Recent(ctx context.Context, limit, offset int) ([]Page, error) {
	var pages []Page
	err := r.db.WithContext(ctx).
		Order("touched DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&pages).Error
	if err != nil {
		r.logError(nil, err, "listing recent pages")
		return nil, eris.Wrap(err, "listing recent pages")
	}

	return pages, nil
}

// ByTag lists pages carrying tag, newest first.
func (r *Repository) ByTag(ctx context.Context, tag string, limit, offset int) ([]Page, error) {
	var pages []Page
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&Tag{}).Select("page_id").Where("name = ?", tag)).
		Order("touched DESC").Order("id DESC").
		Limit(limit).Offset(offset).
		Find(&pages).Error
	if err != nil {
		r.logError(logrus.Fields{"tag": tag}, err, "listing pages by tag")
		return nil, eris.Wrapf(err, "listing pages by tag: %s", tag)
	}

	return pages, nil
}

// Search matches the query against titles, and tag names when includeTags is set.
func (r *Repository) Search(ctx context.Context, query string, includeTags bool, limit int) ([]Page, error) {
	pattern := "%" + escapeLike(query) + "%"

	q := r.db.WithContext(ctx).Where("title LIKE ? ESCAPE '\\'", pattern)
	if includeTags {
		q = q.Or("id IN (?)", r.db.Model(&Tag{}).Select("page_id").Where("name LIKE ? ESCAPE '\\'", pattern))
	}

	var pages []Page
	if err := q.Order("touched DESC").Order("id DESC").Limit(limit).Find(&pages).Error; err != nil {
		r.logError(logrus.Fields{"query": query}, err, "searching pages")
		return nil, eris.Wrapf(err, "searching pages: %s", query)
	}

	return pages, nil
}

// Random returns a random page or nil when there are none.
func (r *Repository) Random(ctx context.Context) (*Page, error) {
	var page Page
	err := r.db.WithContext(ctx).Order("RANDOM()").Limit(1).Take(&page).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(nil, err, "selecting random page")
		return nil, eris.Wrap(err, "selecting random page")
	}

	return &page, nil
}

// ChangedSince lists the ids of pages touched at or after since.
func (r *Repository) ChangedSince(ctx context.Context, since time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&Page{}).
		Where("touched >= ?", since.UTC()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		r.logError(logrus.Fields{"since": since}, err, "listing changed pages")
		return nil, eris.Wrap(err, "listing changed pages")
	}

	return ids, nil
}

// AllIDs lists every page id.
func (r *Repository) AllIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&Page{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		r.logError(nil, err, "listing page ids")
		return nil, eris.Wrap(err, "listing page ids")
	}
	return ids, nil
}

// Counts returns the number of pages and of distinct tags.
func (r *Repository) Counts(ctx context.Context) (pages, tags int64, err error) {
	if err = r.db.WithContext(ctx).Model(&Page{}).Count(&pages).Error; err != nil {
		r.logError(nil, err, "counting pages")
		return 0, 0, eris.Wrap(err, "counting pages")
	}
	if err = r.db.WithContext(ctx).Model(&Tag{}).Distinct("name").Count(&tags).Error; err != nil {
		r.logError(nil, err, "counting tags")
		return 0, 0, eris.Wrap(err, "counting tags")
	}
	return pages, tags, nil
}

// Property returns a page property or nil.
func (r *Repository) Property(ctx context.Context, pageID uint, key string) (*Property, error) {
	var prop Property
	err := r.db.WithContext(ctx).First(&prop, "page_id = ? AND prop_key = ?", pageID, key).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logError(logrus.Fields{"page_id": pageID, "key": key}, err, "fetching property")
		return nil, eris.Wrapf(err, "fetching property %s of page %d", key, pageID)
	}

	return &prop, nil
}

// Properties lists every property of a page ordered by key.
func (r *Repository) Properties(ctx context.Context, pageID uint) ([]Property, error) {
	var props []Property
	if err := r.db.WithContext(ctx).Where("page_id = ?", pageID).Order("prop_key ASC").Find(&props).Error; err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "listing properties")
		return nil, eris.Wrapf(err, "listing properties of page %d", pageID)
	}

	return props, nil
}

// SetProperty upserts a property.
func (r *Repository) SetProperty(ctx context.Context, pageID uint, key string, value PropertyValue) error {
	prop := Property{PageID: pageID, Key: key, Kind: value.Kind, Value: value.Raw}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page_id"}, {Name: "prop_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "value"}),
	}).Create(&prop).Error
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID, "key": key}, err, "storing property")
		return eris.Wrapf(err, "storing property %s of page %d", key, pageID)
	}

	return nil
}

// DeleteProperty removes a property if present.
func (r *Repository) DeleteProperty(ctx context.Context, pageID uint, key string) error {
	if err := r.db.WithContext(ctx).Where("page_id = ? AND prop_key = ?", pageID, key).Delete(&Property{}).Error; err != nil {
		r.logError(logrus.Fields{"page_id": pageID, "key": key}, err, "deleting property")
		return eris.Wrapf(err, "deleting property %s of page %d", key, pageID)
	}

	return nil
}

func (r *Repository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
