package links

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Link is a derived directed edge between two pages.
type Link struct {
	ID         uint `gorm:"primaryKey"`
	FromPageID uint `gorm:"not null;uniqueIndex:idx_links_from_to,priority:1"`
	ToPageID   uint `gorm:"not null;uniqueIndex:idx_links_from_to,priority:2;index"`
	CreatedAt  time.Time
}

// TableName defines the table name for the Link model.
func (Link) TableName() string {
	return "links"
}

// Reference is an intra-wiki link target found in page text. Exactly one of
// PageID and Slug is set.
type Reference struct {
	PageID uint
	Slug   string
}

// Count holds the number of outgoing and incoming edges of a page.
type Count struct {
	Forward int
	Back    int
}

var referencePattern = regexp.MustCompile(`\[[^\]\n]*\]\(\s*(?:/p/(\d+)/|/([a-z0-9]+(?:-[a-z0-9]+)*)/)\s*\)`)

// Extract scans text for markdown links pointing at /p/<id>/ or /<slug>/.
// Duplicates are collapsed and order of first appearance is kept.
func Extract(text string) []Reference {
	matches := referencePattern.FindAllStringSubmatch(text, -1)
	refs := make([]Reference, 0, len(matches))
	seen := make(map[Reference]struct{}, len(matches))

	for _, match := range matches {
		var ref Reference
		if match[1] != "" {
			id, err := strconv.ParseUint(match[1], 10, 64)
			if err != nil || id == 0 {
				continue
			}
			ref.PageID = uint(id)
		} else {
			ref.Slug = match[2]
		}

		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	return refs
}

// Graph maintains the link table.
type Graph struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGraph constructs a Gorm-backed link graph.
func NewGraph(db *gorm.DB, logger *logrus.Logger) (*Graph, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Graph{db: db, logger: logger}, nil
}

// WithTx returns a copy of the graph bound to the provided transaction.
func (g *Graph) WithTx(tx *gorm.DB) *Graph {
	return &Graph{db: tx, logger: g.logger}
}

// Refresh makes the outgoing edges of pageID match the references in text.
// Unresolvable references are skipped. Edges that survive are left untouched.
func (g *Graph) Refresh(ctx context.Context, pageID uint, text string) error {
	targets, err := g.resolve(ctx, Extract(text))
	if err != nil {
		return eris.Wrapf(err, "resolving links of page %d", pageID)
	}

	var existing []Link
	if err := g.db.WithContext(ctx).Where("from_page_id = ?", pageID).Find(&existing).Error; err != nil {
		g.logError(logrus.Fields{"page_id": pageID}, err, "loading existing links")
		return eris.Wrapf(err, "loading links of page %d", pageID)
	}

	var stale []uint
	for _, link := range existing {
		if _, keep := targets[link.ToPageID]; keep {
			delete(targets, link.ToPageID)
			continue
		}
		stale = append(stale, link.ID)
	}

	if len(stale) > 0 {
		if err := g.db.WithContext(ctx).Delete(&Link{}, stale).Error; err != nil {
			g.logError(logrus.Fields{"page_id": pageID}, err, "deleting stale links")
			return eris.Wrapf(err, "deleting stale links of page %d", pageID)
		}
	}

	if len(targets) == 0 {
		return nil
	}

	fresh := make([]Link, 0, len(targets))
	for target := range targets {
		fresh = append(fresh, Link{FromPageID: pageID, ToPageID: target})
	}

	if err := g.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		g.logError(logrus.Fields{"page_id": pageID}, err, "inserting links")
		return eris.Wrapf(err, "inserting links of page %d", pageID)
	}

	return nil
}

// ForwardLinks lists the pages that pageID links to.
func (g *Graph) ForwardLinks(ctx context.Context, pageID uint) ([]uint, error) {
	var ids []uint
	err := g.db.WithContext(ctx).
		Model(&Link{}).
		Where("from_page_id = ?", pageID).
		Order("to_page_id ASC").
		Pluck("to_page_id", &ids).Error
	if err != nil {
		g.logError(logrus.Fields{"page_id": pageID}, err, "listing forward links")
		return nil, eris.Wrapf(err, "listing forward links of page %d", pageID)
	}

	return ids, nil
}

// BackLinks lists the pages linking to pageID.
func (g *Graph) BackLinks(ctx context.Context, pageID uint) ([]uint, error) {
	var ids []uint
	err := g.db.WithContext(ctx).
		Model(&Link{}).
		Where("to_page_id = ?", pageID).
		Order("from_page_id ASC").
		Pluck("from_page_id", &ids).Error
	if err != nil {
		g.logError(logrus.Fields{"page_id": pageID}, err, "listing back links")
		return nil, eris.Wrapf(err, "listing back links of page %d", pageID)
	}

	return ids, nil
}

// Counts returns the forward and back link counts of every linked page.
func (g *Graph) Counts(ctx context.Context) (map[uint]Count, error) {
	type row struct {
		PageID uint
		Total  int
	}

	var forward, back []row
	if err := g.db.WithContext(ctx).Model(&Link{}).
		Select("from_page_id AS page_id, COUNT(*) AS total").
		Group("from_page_id").
		Scan(&forward).Error; err != nil {
		g.logError(nil, err, "counting forward links")
		return nil, eris.Wrap(err, "counting forward links")
	}
	if err := g.db.WithContext(ctx).Model(&Link{}).
		Select("to_page_id AS page_id, COUNT(*) AS total").
		Group("to_page_id").
		Scan(&back).Error; err != nil {
		g.logError(nil, err, "counting back links")
		return nil, eris.Wrap(err, "counting back links")
	}

	counts := make(map[uint]Count, len(forward)+len(back))
	for _, r := range forward {
		c := counts[r.PageID]
		c.Forward = r.Total
		counts[r.PageID] = c
	}
	for _, r := range back {
		c := counts[r.PageID]
		c.Back = r.Total
		counts[r.PageID] = c
	}

	return counts, nil
}

func (g *Graph) resolve(ctx context.Context, refs []Reference) (map[uint]struct{}, error) {
	var ids []uint
	var slugs []string
	for _, ref := range refs {
		if ref.PageID != 0 {
			ids = append(ids, ref.PageID)
		} else {
			slugs = append(slugs, ref.Slug)
		}
	}

	targets := make(map[uint]struct{}, len(refs))

	if len(ids) > 0 {
		var found []uint
		if err := g.db.WithContext(ctx).Table("pages").Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			g.logError(nil, err, "resolving page ids")
			return nil, eris.Wrap(err, "resolving page ids")
		}
		for _, id := range found {
			targets[id] = struct{}{}
		}
	}

	if len(slugs) > 0 {
		var found []uint
		if err := g.db.WithContext(ctx).Table("pages").Where("slug IN ?", slugs).Pluck("id", &found).Error; err != nil {
			g.logError(nil, err, "resolving page slugs")
			return nil, eris.Wrap(err, "resolving page slugs")
		}
		for _, id := range found {
			targets[id] = struct{}{}
		}
	}

	return targets, nil
}

func (g *Graph) logError(fields logrus.Fields, err error, message string) {
	if g.logger == nil {
		return
	}

	entry := g.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
