package models

import "time"

type UserSubscription struct {
	UserID    string    `json:"userId"`
	Tier      string    `json:"tier"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsValid   bool      `json:"isValid"`
}

// Active reports whether the subscription is valid at now.
func (s UserSubscription) Active(now time.Time) bool {
	return s.IsValid && now.Before(s.ExpiresAt)
}
