package implementation

import (
	"context"
	"errors"
	"sort"
	"time"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/mapper"
	"random-chat-be/internal/model"
	"random-chat-be/internal/repository/contract"
	"random-chat-be/internal/repository/scope"
	"random-chat-be/internal/repository/specification"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatUserRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatUserMapper
}

func NewChatUserRepository(db *gorm.DB) contract.ChatUserRepository {
	return &ChatUserRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatUserMapper(),
	}
}

func (r *ChatUserRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ChatUserRepositoryImpl) findOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatUser, error) {
	var row model.ChatUser
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)

	if err := query.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return r.mapper.ToEntity(&row), nil
}

func (r *ChatUserRepositoryImpl) FindByID(ctx context.Context, id int64) (*entity.ChatUser, error) {
	return r.findOne(ctx, specification.ByUserID{UserID: id})
}

func (r *ChatUserRepositoryImpl) FindWaitingCandidate(ctx context.Context, excludeID int64) (*entity.ChatUser, error) {
	return r.findOne(ctx,
		specification.WaitingForHuman{},
		specification.ExcludeUser{UserID: excludeID},
		specification.OrderBy{Field: "updated_at"},
	)
}

func (r *ChatUserRepositoryImpl) LockByIDs(ctx context.Context, ids ...int64) (map[int64]*entity.ChatUser, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var rows []*model.ChatUser
	query := r.applySpecifications(r.db.WithContext(ctx),
		specification.ByUserIDs{UserIDs: sorted},
		specification.OrderBy{Field: "id"},
		specification.LockForUpdate{},
	)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[int64]*entity.ChatUser, len(rows))
	for _, u := range r.mapper.ToEntities(rows) {
		out[u.Id] = u
	}
	return out, nil
}

func (r *ChatUserRepositoryImpl) EnsureExists(ctx context.Context, id int64) error {
	row := &model.ChatUser{Id: id}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row).Error
}

func (r *ChatUserRepositoryImpl) Save(ctx context.Context, user *entity.ChatUser) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.ChatUser{}).
		Where("id = ?", user.Id).
		Updates(map[string]interface{}{
			"partner_id": r.mapper.PartnerToColumn(user.Partner),
			"searching":  user.Searching,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	user.UpdatedAt = now
	return nil
}

func (r *ChatUserRepositoryImpl) ResetAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.ChatUser{}).
		Scopes(scope.HoldingPairing).
		Updates(map[string]interface{}{
			"partner_id": nil,
			"searching":  false,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

type stateCount struct {
	State string
	Total int64
}

func (r *ChatUserRepositoryImpl) CountByState(ctx context.Context) (map[entity.UserState]int64, error) {
	var rows []stateCount
	err := r.db.WithContext(ctx).Model(&model.ChatUser{}).
		Select(`CASE
			WHEN searching THEN ?
			WHEN partner_id = ? THEN ?
			WHEN partner_id IS NOT NULL THEN ?
			ELSE ? END AS state, COUNT(*) AS total`,
			string(entity.UserStateSearching),
			model.AutomationPartnerId, string(entity.UserStatePairedAutomation),
			string(entity.UserStatePairedHuman),
			string(entity.UserStateIdle)).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[entity.UserState]int64{
		entity.UserStateIdle:             0,
		entity.UserStateSearching:        0,
		entity.UserStatePairedHuman:      0,
		entity.UserStatePairedAutomation: 0,
	}
	for _, row := range rows {
		counts[entity.UserState(row.State)] = row.Total
	}
	return counts, nil
}
