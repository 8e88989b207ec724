package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "idproof/pkg/domain"
	dErrors "idproof/pkg/domain-errors"
	authmw "idproof/pkg/platform/middleware/auth"
)

// Scope separates bearer tokens from hand-off link tokens so a link can
// never be replayed as an Authorization header.
type Scope string

const (
	ScopeAccess  Scope = "access"
	ScopeHandoff Scope = "idv_handoff"
)

// Claims are the HS256 claims for access and hand-off tokens.
type Claims struct {
	UserID string `json:"user_id"`
	FlowID string `json:"flow_id,omitempty"`
	Scope  Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// JWTService handles JWT creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateAccessToken mints a bearer token. The account service issues these
// in production; the hybrid entry point mints one for the phone.
func (s *JWTService) GenerateAccessToken(userID id.UserID, now time.Time, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{UserID: userID.String(), Scope: ScopeAccess}, now, expiresIn)
}

// GenerateHandoffToken binds a phone hand-off link to one flow instance.
func (s *JWTService) GenerateHandoffToken(userID id.UserID, flowID id.FlowID, now time.Time, expiresIn time.Duration) (string, error) {
	return s.sign(Claims{UserID: userID.String(), FlowID: flowID.String(), Scope: ScopeHandoff}, now, expiresIn)
}

func (s *JWTService) sign(claims Claims, now time.Time, expiresIn time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    s.issuer,
		Audience:  []string{s.audience},
		Subject:   claims.UserID,
		ID:        uuid.NewString(),
	}
	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signedToken, nil
}

// ValidateToken parses a token of any scope against the wall clock.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	return s.ValidateTokenAt(tokenString, time.Now())
}

// ValidateTokenAt parses a token of any scope, checking expiry at now.
func (s *JWTService) ValidateTokenAt(tokenString string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ValidateHandoffToken accepts only hand-off scoped tokens.
func (s *JWTService) ValidateHandoffToken(tokenString string, now time.Time) (*Claims, error) {
	claims, err := s.ValidateTokenAt(tokenString, now)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeHandoff || claims.FlowID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not a hand-off token")
	}
	return claims, nil
}

// AccessValidator adapts the service to the auth middleware, refusing
// hand-off tokens.
type AccessValidator struct {
	service *JWTService
}

func NewAccessValidator(service *JWTService) *AccessValidator {
	return &AccessValidator{service: service}
}

func (a *AccessValidator) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeAccess {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token is not an access token")
	}
	return &authmw.JWTClaims{UserID: claims.UserID, JTI: claims.ID}, nil
}
