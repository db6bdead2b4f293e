package permission

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory resolves user names handed over by the authentication layer.
type Directory struct {
	db     *gorm.DB
	engine *Engine
	logger *logrus.Logger
}

// NewDirectory constructs a directory sharing the engine's database.
func NewDirectory(db *gorm.DB, engine *Engine, logger *logrus.Logger) (*Directory, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}
	if engine == nil {
		return nil, eris.New("permission engine is required")
	}

	return &Directory{db: db, engine: engine, logger: logger}, nil
}

// Lookup returns the identity for name. Empty or unknown names are anonymous.
func (d *Directory) Lookup(ctx context.Context, name string) (Identity, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Anonymous(), nil
	}

	var user User
	err := d.db.WithContext(ctx).First(&user, "name = ?", trimmed).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return Anonymous(), nil
		}
		d.logError(logrus.Fields{"user": trimmed}, err, "fetching user")
		return Identity{}, eris.Wrapf(err, "fetching user: %s", trimmed)
	}

	var groups []uint
	if err := d.db.WithContext(ctx).
		Model(&Membership{}).
		Where("user_id = ?", user.ID).
		Order("group_id ASC").
		Pluck("group_id", &groups).Error; err != nil {
		d.logError(logrus.Fields{"user": trimmed}, err, "loading memberships")
		return Identity{}, eris.Wrapf(err, "loading memberships of %s", trimmed)
	}

	return Identity{
		ID:       user.ID,
		Name:     user.Name,
		Admin:    user.Admin,
		Disabled: user.Disabled,
		Groups:   groups,
	}, nil
}

// EnsureUser returns the named user, creating it as a member of the default
// group when missing.
func (d *Directory) EnsureUser(ctx context.Context, name string, admin bool) (*User, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, eris.New("user name is required")
	}

	var user User
	err := d.db.WithContext(ctx).First(&user, "name = ?", trimmed).Error
	if err == nil {
		return &user, nil
	}
	if !eris.Is(err, gorm.ErrRecordNotFound) {
		d.logError(logrus.Fields{"user": trimmed}, err, "fetching user")
		return nil, eris.Wrapf(err, "fetching user: %s", trimmed)
	}

	group, err := d.engine.EnsureDefaultGroup(ctx)
	if err != nil {
		return nil, err
	}

	user = User{Name: trimmed, Admin: admin}
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return eris.Wrapf(err, "creating user: %s", trimmed)
		}
		return tx.Create(&Membership{UserID: user.ID, GroupID: group.ID}).Error
	})
	if err != nil {
		d.logError(logrus.Fields{"user": trimmed}, err, "creating user")
		return nil, eris.Wrapf(err, "creating user: %s", trimmed)
	}

	return &user, nil
}

// AddMember puts the user into the group. Repeated calls are harmless.
func (d *Directory) AddMember(ctx context.Context, userID, groupID uint) error {
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Membership{UserID: userID, GroupID: groupID}).Error
	if err != nil {
		d.logError(logrus.Fields{"user_id": userID, "group_id": groupID}, err, "adding membership")
		return eris.Wrapf(err, "adding user %d to group %d", userID, groupID)
	}

	return nil
}

// Names maps user ids to user names.
func (d *Directory) Names(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var users []User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		d.logError(nil, err, "resolving user names")
		return nil, eris.Wrap(err, "resolving user names")
	}

	for _, user := range users {
		names[user.ID] = user.Name
	}

	return names, nil
}

func (d *Directory) logError(fields logrus.Fields, err error, message string) {
	if d.logger == nil {
		return
	}

	entry := d.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
