package scope

import "gorm.io/gorm"

// HoldingPairing matches rows that are searching or paired, i.e. everything that is not IDLE.
func HoldingPairing(db *gorm.DB) *gorm.DB {
	return db.Where("searching = ? OR partner_id IS NOT NULL", true)
}
