package unitofwork

import (
	"context"

	"random-chat-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ChatUserRepository() contract.ChatUserRepository
}
