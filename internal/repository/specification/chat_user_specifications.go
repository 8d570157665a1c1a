package specification

import (
	"gorm.io/gorm"
)

type ByUserID struct {
	UserID int64
}

func (s ByUserID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id = ?", s.UserID)
}

type ByUserIDs struct {
	UserIDs []int64
}

func (s ByUserIDs) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id IN ?", s.UserIDs)
}

type ExcludeUser struct {
	UserID int64
}

func (s ExcludeUser) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id <> ?", s.UserID)
}

// WaitingForHuman matches users that are searching and not claimed yet.
type WaitingForHuman struct{}

func (s WaitingForHuman) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("searching = ? AND partner_id IS NULL", true)
}
