package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	Role    enums.ActorRole
	AgentID *uuid.UUID
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented by callers. AgentID is
// set for delivery agents and names the courier record the caller acts as.
type AccessTokenClaims struct {
	UserID  uuid.UUID       `json:"user_id"`
	Role    enums.ActorRole `json:"role"`
	AgentID *uuid.UUID      `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}
