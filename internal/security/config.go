// Package security provides centralized configuration for group input rules.
package security

import "time"

// SecurityConfig holds the limits applied to group names, join codes and join attempts.
type SecurityConfig struct {
	// Group names
	MaxGroupNameLength int // Maximum characters in a group name

	// Join codes
	JoinCodeLength int // Characters after the "<name>-" prefix

	// Join attempts per user
	JoinRateLimit  int           // Bucket size
	JoinRateRefill time.Duration // Time to earn back one attempt
}

// DefaultSecurityConfig returns the limits the group core enforces.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		MaxGroupNameLength: 30,
		JoinCodeLength:     4,
		JoinRateLimit:      10,
		JoinRateRefill:     6 * time.Second,
	}
}
