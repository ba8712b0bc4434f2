package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"swot-insights/internal/common/auth"
	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
	"swot-insights/internal/subscription"
)

const (
	ctxIdentity     = "identity"
	ctxSubscription = "subscription"
	headerRequestID = "X-Request-ID"
)

// Authenticator is the identity provider as seen by the HTTP layer.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string, remember bool) (*auth.SignInResult, error)
	SignOut(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, token string) (*models.Identity, error)
}

// SubscriptionChecker reports whether a user may use the survey.
type SubscriptionChecker interface {
	Check(ctx context.Context, userID string) (*subscription.Status, error)
}

// RequestID tags every request and response with an id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("requestId", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  c.GetString("requestId"),
		}
		if id := identityFrom(c); id != nil {
			fields["userId"] = id.UserID
		}
		if c.Writer.Status() >= 500 {
			log.Error("Request served", fields)
			return
		}
		log.Debug("Request served", fields)
	}
}

// RequireAuth resolves the bearer token into an identity or answers 401.
func RequireAuth(a Authenticator, eh *apperrors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			eh.Respond(c, apperrors.NewAuthError("missing bearer token"))
			return
		}
		identity, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			eh.Respond(c, err)
			return
		}
		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

// RequireAdmin answers 403 unless the caller has role. Must follow RequireAuth.
func RequireAdmin(role string, eh *apperrors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identityFrom(c).HasRole(role) {
			eh.Respond(c, apperrors.NewForbiddenError("role "+role+" required"))
			return
		}
		c.Next()
	}
}

// RequireActiveSubscription sends expired or missing subscriptions to the
// subscription page. Must follow RequireAuth.
func RequireActiveSubscription(sc SubscriptionChecker, eh *apperrors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		if identity == nil {
			eh.Respond(c, apperrors.NewAuthError("not signed in"))
			return
		}
		status, err := sc.Check(c.Request.Context(), identity.UserID)
		if err != nil {
			eh.Respond(c, err)
			return
		}
		c.Set(ctxSubscription, status)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *models.Identity {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return nil
	}
	id, _ := v.(*models.Identity)
	return id
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
