package permission

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultGroupName names the group seeded for anonymous visitors.
const DefaultGroupName = "default"

// ErrForbidden is returned when the acting identity lacks a required capability.
var ErrForbidden = eris.New("permission denied")

// Engine evaluates capabilities against stored groups and page overrides.
type Engine struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewEngine constructs a Gorm-backed permission engine.
func NewEngine(db *gorm.DB, logger *logrus.Logger) (*Engine, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Engine{db: db, logger: logger}, nil
}

// WithTx returns a copy of the engine bound to the provided transaction.
func (e *Engine) WithTx(tx *gorm.DB) *Engine {
	return &Engine{db: tx, logger: e.logger}
}

// EnsureDefaultGroup returns the default group, creating it with every
// capability when the table has none.
func (e *Engine) EnsureDefaultGroup(ctx context.Context) (*Group, error) {
	group, err := e.defaultGroup(ctx)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, nil
	}

	group = &Group{Name: DefaultGroupName, Permissions: All, IsDefault: true}
	if err := e.db.WithContext(ctx).Create(group).Error; err != nil {
		e.logError(nil, err, "creating default group")
		return nil, eris.Wrap(err, "creating default group")
	}

	return group, nil
}

// Effective returns the capability mask of identity, on target when non-nil.
func (e *Engine) Effective(ctx context.Context, identity Identity, target *Target) (Bits, error) {
	if identity.Admin && !identity.Guest() {
		return All, nil
	}

	groupIDs := identity.Groups
	if identity.Guest() {
		group, err := e.defaultGroup(ctx)
		if err != nil {
			return 0, err
		}
		groupIDs = nil
		if group != nil {
			groupIDs = []uint{group.ID}
		}
	}

	in := Input{Identity: identity, Target: target}
	if len(groupIDs) > 0 {
		if err := e.db.WithContext(ctx).
			Model(&Group{}).
			Where("id IN ?", groupIDs).
			Pluck("permissions", &in.Baselines).Error; err != nil {
			e.logError(logrus.Fields{"user_id": identity.ID}, err, "loading group baselines")
			return 0, eris.Wrap(err, "loading group baselines")
		}

		if target != nil {
			if err := e.db.WithContext(ctx).
				Model(&Override{}).
				Where("page_id = ? AND group_id IN ?", target.PageID, groupIDs).
				Pluck("permissions", &in.Overrides).Error; err != nil {
				e.logError(logrus.Fields{"page_id": target.PageID}, err, "loading page overrides")
				return 0, eris.Wrapf(err, "loading overrides of page %d", target.PageID)
			}
		}
	}

	return Evaluate(in), nil
}

// CanEdit reports whether identity may edit target.
func (e *Engine) CanEdit(ctx context.Context, identity Identity, target *Target) (bool, error) {
	bits, err := e.Effective(ctx, identity, target)
	if err != nil {
		return false, err
	}

	return CanEdit(identity, target, bits), nil
}

// Require fails with ErrForbidden unless identity holds every bit in need.
func (e *Engine) Require(ctx context.Context, identity Identity, target *Target, need Bits) error {
	bits, err := e.Effective(ctx, identity, target)
	if err != nil {
		return err
	}

	if !bits.Has(need) {
		return eris.Wrapf(ErrForbidden, "requires %s", need&^bits)
	}

	return nil
}

// Overrides lists the overrides stored for a page.
func (e *Engine) Overrides(ctx context.Context, pageID uint) ([]Override, error) {
	var overrides []Override
	if err := e.db.WithContext(ctx).Where("page_id = ?", pageID).Order("group_id ASC").Find(&overrides).Error; err != nil {
		e.logError(logrus.Fields{"page_id": pageID}, err, "listing overrides")
		return nil, eris.Wrapf(err, "listing overrides of page %d", pageID)
	}

	return overrides, nil
}

// SetOverride stores the override mask of a group on a page, replacing any previous value.
func (e *Engine) SetOverride(ctx context.Context, pageID, groupID uint, bits Bits) error {
	override := Override{PageID: pageID, GroupID: groupID, Permissions: bits & All}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page_id"}, {Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"permissions"}),
	}).Create(&override).Error
	if err != nil {
		e.logError(logrus.Fields{"page_id": pageID, "group_id": groupID}, err, "storing override")
		return eris.Wrapf(err, "storing override of group %d on page %d", groupID, pageID)
	}

	return nil
}

// DeleteOverride removes the override of a group on a page, if any.
func (e *Engine) DeleteOverride(ctx context.Context, pageID, groupID uint) error {
	err := e.db.WithContext(ctx).
		Where("page_id = ? AND group_id = ?", pageID, groupID).
		Delete(&Override{}).Error
	if err != nil {
		e.logError(logrus.Fields{"page_id": pageID, "group_id": groupID}, err, "deleting override")
		return eris.Wrapf(err, "deleting override of group %d on page %d", groupID, pageID)
	}

	return nil
}

// GroupByName returns the named group or nil.
func (e *Engine) GroupByName(ctx context.Context, name string) (*Group, error) {
	var group Group
	err := e.db.WithContext(ctx).First(&group, "name = ?", name).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		e.logError(logrus.Fields{"group": name}, err, "fetching group")
		return nil, eris.Wrapf(err, "fetching group: %s", name)
	}

	return &group, nil
}

// SaveGroup creates or updates a group by name.
func (e *Engine) SaveGroup(ctx context.Context, name string, bits Bits) (*Group, error) {
	group := Group{Name: name, Permissions: bits & All}
	err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"permissions"}),
	}).Create(&group).Error
	if err != nil {
		e.logError(logrus.Fields{"group": name}, err, "saving group")
		return nil, eris.Wrapf(err, "saving group: %s", name)
	}

	return e.GroupByName(ctx, name)
}

func (e *Engine) defaultGroup(ctx context.Context) (*Group, error) {
	var group Group
	err := e.db.WithContext(ctx).Where("is_default = ?", true).Order("id ASC").First(&group).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		e.logError(nil, err, "fetching default group")
		return nil, eris.Wrap(err, "fetching default group")
	}

	return &group, nil
}

func (e *Engine) logError(fields logrus.Fields, err error, message string) {
	if e.logger == nil {
		return
	}

	entry := e.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
