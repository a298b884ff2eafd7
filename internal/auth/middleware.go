package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           domain.Role
}

// Actor converts the principal into the lifecycle actor.
func (p *Principal) Actor() domain.Actor {
	return domain.Actor{ID: p.UserID, OrganizationID: p.OrganizationID, Role: p.Role}
}

// UserLookup confirms the token subject is still an active member of the organization.
type UserLookup interface {
	GetByID(ctx context.Context, organizationID, userID string) (*domain.User, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens *TokenManager
	users  UserLookup
}

// NewAuthMiddleware constructs middleware. users may be nil, in which case the token
// claims are trusted as-is.
func NewAuthMiddleware(tokens *TokenManager, users UserLookup) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{UserID: claims.Subject, OrganizationID: claims.OrganizationID, Role: claims.Role}
	if m.users != nil {
		user, err := m.users.GetByID(c.UserContext(), claims.OrganizationID, claims.Subject)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NewUnauthorized("user not found")
			}
			return apperrors.MapError(err)
		}
		if !user.Active {
			return apperrors.NewUnauthorized("user inactive")
		}
		principal.Role = user.Role
	}
	switch principal.Role {
	case domain.RoleRequester, domain.RoleAgent, domain.RoleAdmin:
	default:
		return apperrors.NewUnauthorized("unknown role")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
