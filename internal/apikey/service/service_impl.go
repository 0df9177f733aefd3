package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/hostbill/internal/apikey/domain"
	"github.com/smallbiznis/hostbill/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenPrefix      = "hb_"
	tokenSecretBytes = 32
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  apikeydomain.Repository
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*apikeydomain.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" || !strings.HasPrefix(rawToken, tokenPrefix) {
		return nil, apikeydomain.ErrUnauthorized
	}

	hash := apikeydomain.HashToken(rawToken)
	identity, err := s.repo.FindIdentityByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if identity == nil || identity.Role == "" {
		return nil, apikeydomain.ErrUnauthorized
	}

	if err := s.repo.TouchLastUsed(ctx, s.db, hash, s.clock.Now()); err != nil {
		s.log.Warn("failed to update token last_used_at", zap.Error(err))
	}
	return identity, nil
}

func (s *Service) Issue(ctx context.Context, userID snowflake.ID) (*apikeydomain.SecretResponse, error) {
	user, err := s.repo.FindUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apikeydomain.ErrNotFound
	}

	id := s.genID.Generate()
	plain, hash, err := generateToken(id)
	if err != nil {
		return nil, err
	}

	token := &apikeydomain.APIToken{
		ID:        id,
		UserID:    user.ID,
		TokenHash: hash,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertToken(ctx, s.db, token); err != nil {
		return nil, err
	}
	return &apikeydomain.SecretResponse{TokenID: id, Token: plain}, nil
}

func (s *Service) Revoke(ctx context.Context, tokenID snowflake.ID) error {
	revoked, err := s.repo.Revoke(ctx, s.db, tokenID, s.clock.Now())
	if err != nil {
		return err
	}
	if !revoked {
		return apikeydomain.ErrNotFound
	}
	return nil
}

func generateToken(id snowflake.ID) (string, string, error) {
	secret := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	keyID := strings.ToLower(strconv.FormatInt(int64(id), 36))
	plain := fmt.Sprintf("%s%s_%s", tokenPrefix, keyID, hex.EncodeToString(secret))
	return plain, apikeydomain.HashToken(plain), nil
}
