// Package subscription decides whether a user may use the survey. Results are
// cached in Redis and resolved from Postgres on a miss.
package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/models"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	cachePrefix     = "sub:"
)

var validTiers = map[string]bool{
	"free":       true,
	"basic":      true,
	"premium":    true,
	"enterprise": true,
}

// Status is the outcome of a successful check.
type Status struct {
	UserID    string    `json:"userId"`
	Tier      string    `json:"tier"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
	Cached    bool      `json:"cached"`
}

type Checker struct {
	db     *sql.DB
	redis  redis.Cmdable
	logger logger.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewChecker(db *sql.DB, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *Checker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Checker{
		db:     db,
		redis:  rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "subscription"}),
		now:    time.Now,
	}
}

// Check returns the user's active subscription, or a SUBSCRIPTION_INVALID,
// SUBSCRIPTION_EXPIRED or SUBSCRIPTION_CHECK_FAILED error.
func (c *Checker) Check(ctx context.Context, userID string) (*Status, error) {
	if userID == "" {
		return nil, apperrors.NewSubscriptionInvalidError("missing user id")
	}
	cacheKey := cachePrefix + userID

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			var sub models.UserSubscription
			if jsonErr := json.Unmarshal([]byte(cached), &sub); jsonErr == nil {
				status, vErr := c.evaluate(sub)
				if vErr == nil {
					status.Cached = true
					return status, nil
				}
				// A cached entry that has since expired is re-read from the database.
				c.redis.Del(ctx, cacheKey)
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("subscription cache read failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}

	var sub models.UserSubscription
	err := c.db.QueryRowContext(ctx,
		"SELECT user_id, tier, expires_at, is_valid FROM user_subscriptions WHERE user_id = $1",
		userID,
	).Scan(&sub.UserID, &sub.Tier, &sub.ExpiresAt, &sub.IsValid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewSubscriptionInvalidError("no subscription for user")
	}
	if err != nil {
		c.logger.Error("subscription lookup failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return nil, apperrors.NewSubscriptionCheckFailedError(err)
	}

	status, err := c.evaluate(sub)
	if err != nil {
		c.logger.Info("subscription rejected", map[string]interface{}{
			"userId": userID,
			"tier":   sub.Tier,
			"reason": err.Error(),
		})
		return nil, err
	}

	if c.redis != nil {
		data, _ := json.Marshal(sub)
		if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn("subscription cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}
	return status, nil
}

// Invalidate drops the cached entry for userID.
func (c *Checker) Invalidate(ctx context.Context, userID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, cachePrefix+userID).Err()
}

func (c *Checker) evaluate(sub models.UserSubscription) (*Status, error) {
	if !sub.IsValid {
		return nil, apperrors.NewSubscriptionInvalidError("subscription is marked invalid")
	}
	if !validTiers[sub.Tier] {
		return nil, apperrors.NewSubscriptionInvalidError("unknown tier " + sub.Tier)
	}
	if !sub.ExpiresAt.IsZero() && !c.now().Before(sub.ExpiresAt) {
		return nil, apperrors.NewSubscriptionExpiredError("expired at " + sub.ExpiresAt.Format(time.RFC3339))
	}
	return &Status{
		UserID:    sub.UserID,
		Tier:      sub.Tier,
		ExpiresAt: sub.ExpiresAt,
		Active:    true,
	}, nil
}
