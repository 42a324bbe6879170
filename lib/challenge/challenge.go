// Package challenge issues and redeems the one-time tokens that bind a
// displayed shape to a single trace attempt.
package challenge

import "time"

// Challenge is the metadata about a single challenge issuance.
type Challenge struct {
	ID        string    `json:"id"`         // UUIDv4 identifying the challenge
	Shape     string    `json:"shape"`      // Name of the template the user is asked to trace
	ShapeHash string    `json:"shape_hash"` // Fingerprint of the template at issue time
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`

	// Cosmetic hints for the renderer. Matching ignores them.
	DisplayRotation float64 `json:"display_rotation"` // degrees
	DisplayScale    float64 `json:"display_scale"`
}

// Expired reports whether the challenge can no longer be answered at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Valid reports whether the challenge is unused and unexpired at now.
func (c *Challenge) Valid(now time.Time) bool {
	return !c.Used && !c.Expired(now)
}
