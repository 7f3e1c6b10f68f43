// Package core holds the domain model shared by every adpilot package:
// workflow contexts, phases, intents, tool contracts and the error taxonomy.
package core

// Default enforcement ceilings.
const (
	DefaultMaxIterations          = 5
	DefaultMaxRetriesPerOperation = 3
)

// DefaultConfidenceThreshold is the intent confidence below which routing
// falls back to the hybrid sequence.
const DefaultConfidenceThreshold = 0.5

// Supported ad platforms.
const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformGoogle    = "google"
	PlatformTikTok    = "tiktok"
	PlatformLinkedIn  = "linkedin"
)

// Platforms is the ordered list of all supported platforms.
var Platforms = []string{
	PlatformFacebook,
	PlatformInstagram,
	PlatformGoogle,
	PlatformTikTok,
	PlatformLinkedIn,
}

// ValidPlatforms is a map for O(1) platform validation.
var ValidPlatforms = map[string]bool{
	PlatformFacebook:  true,
	PlatformInstagram: true,
	PlatformGoogle:    true,
	PlatformTikTok:    true,
	PlatformLinkedIn:  true,
}

// IsValidPlatform checks if the given platform name is valid.
func IsValidPlatform(p string) bool {
	return ValidPlatforms[p]
}
