package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/auth"
	"github.com/satriahrh/bidstream/internal/metrics"
	"github.com/satriahrh/bidstream/internal/saga/submission"
	"github.com/satriahrh/bidstream/internal/stream"
	"github.com/satriahrh/bidstream/internal/voice"
	"github.com/satriahrh/bidstream/internal/websocket"
	"github.com/satriahrh/bidstream/usecase"
)

const claimsKey = "claims"

// Dependencies are the services the routes are served from
type Dependencies struct {
	Hub         *websocket.Hub
	Broker      *stream.Broker
	Issuer      *auth.Issuer
	Users       repositories.UserRepository
	Projects    repositories.ProjectRepository
	Requests    repositories.ProposalRequestRepository
	IntentStore repositories.IntentStore
	Intents     voice.IntentResolver
	Classifier  *usecase.ClassificationService
	Submissions *submission.Service
	Proposals   *usecase.ProposalService
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	h := &handlers{deps: deps, logger: deps.Logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "bidstream-server",
		})
	})
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	authed := v1.Group("", requireUser(deps.Issuer, deps.Logger))

	// Voice intents
	authed.POST("/voice/intent", h.resolveVoiceIntent)
	authed.GET("/voice/intent/last", h.lastVoiceIntent)
	authed.DELETE("/voice/intent/last", h.clearVoiceIntent)

	// Projects
	authed.GET("/projects", h.listProjects)
	authed.GET("/projects/:id", h.getProject)

	// Proposal requests
	authed.POST("/proposal-requests", h.submitProposalRequest)
	authed.GET("/proposal-requests/matching", h.matchingProposalRequests)
	authed.GET("/proposal-requests/:id", h.getProposalRequest)
	authed.GET("/proposal-requests/:id/contractors", h.matchingContractors)

	// Contractor proposals
	authed.POST("/proposals", h.createProposal)
	authed.GET("/proposals", h.listProposals)
	authed.GET("/proposals/:id", h.getProposal)

	// Text streams over SSE
	authed.GET("/stream/:procedure", h.streamSSE)
	authed.DELETE("/stream/sessions/:session", h.cancelStream)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		claims := claimsFrom(c)
		return websocket.HandleWebSocketWithAuth(deps.Hub, c, claims.UserID, deps.Logger)
	}, requireUser(deps.Issuer, deps.Logger))
}

// requireUser validates the bearer token. Browsers cannot set headers on
// EventSource and WebSocket requests, so a token query parameter is also
// accepted.
func requireUser(issuer *auth.Issuer, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.QueryParam("token")
			if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}

			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in the Authorization header",
				})
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *auth.JWTClaims {
	claims, _ := c.Get(claimsKey).(*auth.JWTClaims)
	return claims
}
