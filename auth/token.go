// Package auth mints join tokens for room connections.
package auth

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/utils"
)

var ErrMissingCredentials = errors.New("auth: api key and secret are required")

const DefaultTokenTTL = 24 * time.Hour

type TokenService struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewTokenService(apiKey, apiSecret string) (*TokenService, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, ErrMissingCredentials
	}
	return &TokenService{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       DefaultTokenTTL,
	}, nil
}

// SetTTL overrides the token lifetime. Non-positive values keep the default.
func (s *TokenService) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// TokenOptions carries the participant claims embedded in a join token.
type TokenOptions struct {
	Identity   string
	Name       string
	Metadata   string
	Attributes map[string]string
}

func (s *TokenService) GenerateToken(room string, opts TokenOptions) (string, error) {
	at := auth.NewAccessToken(s.apiKey, s.apiSecret)

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}

	at.SetIdentity(opts.Identity).
		SetValidFor(s.ttl).
		SetVideoGrant(grant)

	if opts.Name != "" {
		at.SetName(opts.Name)
	}
	if opts.Metadata != "" {
		at.SetMetadata(opts.Metadata)
	}
	if len(opts.Attributes) > 0 {
		at.SetAttributes(opts.Attributes)
	}

	return at.ToJWT()
}

func (s *TokenService) GenerateRoomName() string {
	return utils.NewGuid("RM_")
}
