package service

import (
	"context"

	"firebase.google.com/go/v4/auth"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
)

// idTokenVerifier is satisfied by *auth.Client.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseIdentityService verifies Firebase Authentication ID tokens.
type FirebaseIdentityService struct {
	client idTokenVerifier
	logger *zap.Logger
}

// NewFirebaseIdentityService constructs a verifier over a Firebase auth client.
func NewFirebaseIdentityService(client idTokenVerifier, logger *zap.Logger) *FirebaseIdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirebaseIdentityService{client: client, logger: logger}
}

// Verify implements IdentityVerifier.
func (s *FirebaseIdentityService) Verify(ctx context.Context, idToken string) (*models.Identity, error) {
	token, err := s.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.logger.Debug("firebase id token rejected", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if token == nil || token.UID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has no subject")
	}
	return &models.Identity{
		UID:      token.UID,
		Email:    cast.ToString(token.Claims["email"]),
		Name:     cast.ToString(token.Claims["name"]),
		Provider: "firebase",
	}, nil
}
