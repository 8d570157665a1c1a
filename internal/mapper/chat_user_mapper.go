package mapper

import (
	"random-chat-be/internal/entity"
	"random-chat-be/internal/model"
)

type ChatUserMapper struct{}

func NewChatUserMapper() *ChatUserMapper {
	return &ChatUserMapper{}
}

func (m *ChatUserMapper) ToEntity(u *model.ChatUser) *entity.ChatUser {
	if u == nil {
		return nil
	}
	return &entity.ChatUser{
		Id:        u.Id,
		Partner:   m.PartnerFromColumn(u.PartnerId),
		Searching: u.Searching,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (m *ChatUserMapper) ToModel(u *entity.ChatUser) *model.ChatUser {
	if u == nil {
		return nil
	}
	return &model.ChatUser{
		Id:        u.Id,
		PartnerId: m.PartnerToColumn(u.Partner),
		Searching: u.Searching,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (m *ChatUserMapper) ToEntities(users []*model.ChatUser) []*entity.ChatUser {
	out := make([]*entity.ChatUser, len(users))
	for i, u := range users {
		out[i] = m.ToEntity(u)
	}
	return out
}

func (m *ChatUserMapper) PartnerFromColumn(partnerId *int64) entity.Partner {
	switch {
	case partnerId == nil:
		return entity.NoPartner
	case *partnerId == model.AutomationPartnerId:
		return entity.AutomationPartner
	default:
		return entity.HumanPartner(*partnerId)
	}
}

func (m *ChatUserMapper) PartnerToColumn(p entity.Partner) *int64 {
	switch p.Kind {
	case entity.PartnerHuman:
		id := p.ID
		return &id
	case entity.PartnerAutomation:
		id := model.AutomationPartnerId
		return &id
	default:
		return nil
	}
}
