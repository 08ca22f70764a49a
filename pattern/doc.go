// Package pattern implements the pattern store: learned condition → action
// associations that are applied to new contexts by match scoring and whose
// confidence is re-analyzed periodically from accumulated evidence.
package pattern
