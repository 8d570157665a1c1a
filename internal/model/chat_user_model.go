package model

import "time"

// AutomationPartnerId is stored in partner_id when the user is chatting with the
// automation backend. Real user ids are positive.
const AutomationPartnerId int64 = -1

type ChatUser struct {
	Id        int64     `gorm:"primaryKey;autoIncrement:false"`
	PartnerId *int64    `gorm:"index"`
	Searching bool      `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ChatUser) TableName() string {
	return "chat_users"
}
