// Package session owns chat session reliability settings.
//
// Ownership boundary:
// - protocol token used to tag chat streams
// - connect retry caps and backoff
// - per-stream payload limits
package session
