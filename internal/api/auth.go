package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/labstack/echo/v4"
)

// agentContextKey is the echo context key for the verified interviewer ID.
const agentContextKey = "interviewer_id"

// AgentClaims are the claims carried by an agent access token.
type AgentClaims struct {
	Issuer        string `json:"iss"`
	InterviewerID string `json:"sub"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}

// SignAgentToken creates a signed agent access token. Used by the keygen
// tool and by tests; the API only verifies.
func SignAgentToken(privateJWK, interviewerID string, ttl time.Duration) (string, error) {
	var jwk jose.JSONWebKey
	err := json.Unmarshal([]byte(privateJWK), &jwk)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key JWK: %v", err)
	}

	signingKey := jose.SigningKey{Algorithm: jose.ES256, Key: jwk.Key}
	signer, err := jose.NewSigner(signingKey, (&jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			"kid": jwk.KeyID,
		},
	}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %v", err)
	}

	now := time.Now()
	claims := AgentClaims{
		Issuer:        "fieldwork-api",
		InterviewerID: interviewerID,
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Add(ttl).Unix(),
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %v", err)
	}

	object, err := signer.Sign(claimsJSON)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}

	token, err := object.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize token: %v", err)
	}

	return token, nil
}

// VerifyAgentToken checks the signature and expiry of an agent access token
// against the configured public JWK.
func VerifyAgentToken(publicJWK, token string) (*AgentClaims, error) {
	var jwk jose.JSONWebKey
	err := json.Unmarshal([]byte(publicJWK), &jwk)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key JWK: %v", err)
	}

	object, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.ES256})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %v", err)
	}

	payload, err := object.Verify(jwk.Key)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %v", err)
	}

	var claims AgentClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %v", err)
	}

	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("token expired")
	}
	if claims.InterviewerID == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	return &claims, nil
}

// AgentAuthMiddleware verifies agent bearer tokens on protected routes.
// An empty publicJWK disables authentication, for local development.
func AgentAuthMiddleware(publicJWK string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if publicJWK == "" {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error: "Missing bearer token",
				})
			}

			claims, err := VerifyAgentToken(publicJWK, token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error: "Invalid token",
				})
			}

			c.Set(agentContextKey, claims.InterviewerID)
			return next(c)
		}
	}
}

// InterviewerID returns the verified interviewer from the request context,
// or empty when authentication is disabled.
func InterviewerID(c echo.Context) string {
	id, _ := c.Get(agentContextKey).(string)
	return id
}
