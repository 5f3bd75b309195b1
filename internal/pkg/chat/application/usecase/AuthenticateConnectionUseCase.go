package usecase

import (
	"context"
	"errors"
	"fmt"

	chat "taskchat/internal/pkg/chat/application/domain"
	repository "taskchat/internal/pkg/chat/persistence/repository/port"
)

// AuthenticateConnectionInput carries the identity a new connection claims
// during the handshake. FallbackName is non-authoritative and only used when
// the directory has no display name on record.
type AuthenticateConnectionInput struct {
	UserID       string
	FallbackName string
}

// AuthenticateConnectionUseCase verifies a claimed identity against the user
// directory before the connection is granted any channel membership.
type AuthenticateConnectionUseCase struct {
	Directory repository.UserDirectory
}

func NewAuthenticateConnectionUseCase(directory repository.UserDirectory) *AuthenticateConnectionUseCase {
	return &AuthenticateConnectionUseCase{Directory: directory}
}

// Execute resolves the claimed user. Unknown users surface as
// chat.ErrUserNotFound; a failing directory surfaces as ErrDirectory so the
// boundary can reject the connection without leaking infrastructure detail.
func (uc *AuthenticateConnectionUseCase) Execute(ctx context.Context, in AuthenticateConnectionInput) (*chat.User, error) {
	if in.UserID == "" {
		return nil, chat.ErrUserNotFound
	}

	user, err := uc.Directory.FindUserByID(ctx, in.UserID)
	if errors.Is(err, chat.ErrUserNotFound) {
		return nil, chat.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectory, err)
	}

	if user.Name == "" {
		user.Name = in.FallbackName
	}
	return user, nil
}
