package wiki

import (
	"fmt"
	"strconv"
	"time"

	"salvi/app/internal/permission"
)

// Page is a wiki entry. Its text lives in the revision ledger.
type Page struct {
	ID               uint       `gorm:"primaryKey"`
	Slug             *string    `gorm:"size:64;uniqueIndex:idx_pages_slug"`
	Title            string     `gorm:"size:256;not null"`
	OwnerID          *uint      `gorm:"index"`
	IsRedirect       bool       `gorm:"not null;default:false"`
	IsLocked         bool       `gorm:"not null;default:false"`
	IsContentWarning bool       `gorm:"not null;default:false"`
	IsSynced         bool       `gorm:"not null;default:false"`
	Calendar         *time.Time `gorm:"index"`
	Touched          time.Time  `gorm:"not null;index"`
	CreatedAt        time.Time
}

// TableName defines the table name for the Page model.
func (Page) TableName() string {
	return "pages"
}

// SlugValue returns the slug or an empty string.
func (p *Page) SlugValue() string {
	if p.Slug == nil {
		return ""
	}
	return *p.Slug
}

// Path is the canonical URL path of the page.
func (p *Page) Path() string {
	if slug := p.SlugValue(); slug != "" && !IsReservedSlug(slug) {
		return "/" + slug + "/"
	}
	return fmt.Sprintf("/p/%d/", p.ID)
}

// Target is the permission-side view of the page.
func (p *Page) Target() *permission.Target {
	return &permission.Target{PageID: p.ID, OwnerID: p.OwnerID, Locked: p.IsLocked}
}

// Tag labels a page. Names are unique per page.
type Tag struct {
	ID     uint   `gorm:"primaryKey"`
	PageID uint   `gorm:"not null;uniqueIndex:idx_tags_page_name,priority:1"`
	Name   string `gorm:"size:64;not null;uniqueIndex:idx_tags_page_name,priority:2;index"`
}

// TableName defines the table name for the Tag model.
func (Tag) TableName() string {
	return "tags"
}

// PropertyKind tells how a property value is encoded.
type PropertyKind string

const (
	PropertyString PropertyKind = "string"
	PropertyInt    PropertyKind = "int"
	PropertyBool   PropertyKind = "bool"
)

// Property is a typed key/value pair scoped to one page.
type Property struct {
	ID     uint         `gorm:"primaryKey"`
	PageID uint         `gorm:"not null;uniqueIndex:idx_page_properties_page_key,priority:1"`
	Key    string       `gorm:"column:prop_key;size:64;not null;uniqueIndex:idx_page_properties_page_key,priority:2"`
	Kind   PropertyKind `gorm:"size:16;not null"`
	Value  string       `gorm:"type:text;not null"`
}

// TableName defines the table name for the Property model.
func (Property) TableName() string {
	return "page_properties"
}

// PropertyValue is a property payload with its kind.
type PropertyValue struct {
	Kind PropertyKind
	Raw  string
}

func StringValue(v string) PropertyValue {
	return PropertyValue{Kind: PropertyString, Raw: v}
}

func IntValue(v int64) PropertyValue {
	return PropertyValue{Kind: PropertyInt, Raw: strconv.FormatInt(v, 10)}
}

func BoolValue(v bool) PropertyValue {
	return PropertyValue{Kind: PropertyBool, Raw: strconv.FormatBool(v)}
}

// Int decodes an int property.
func (v PropertyValue) Int() (int64, bool) {
	if v.Kind != PropertyInt {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	return n, err == nil
}

// Bool decodes a bool property.
func (v PropertyValue) Bool() (bool, bool) {
	if v.Kind != PropertyBool {
		return false, false
	}
	b, err := strconv.ParseBool(v.Raw)
	return b, err == nil
}

// String returns the raw value of a string property.
func (v PropertyValue) String() (string, bool) {
	return v.Raw, v.Kind == PropertyString
}

func (k PropertyKind) valid() bool {
	switch k {
	case PropertyString, PropertyInt, PropertyBool:
		return true
	}
	return false
}

// UnixSeconds converts t to fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds is the inverse of UnixSeconds, in UTC.
func FromUnixSeconds(seconds float64) time.Time {
	whole := int64(seconds)
	frac := seconds - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second))).UTC()
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
