// Package dedupe tracks recently seen keys inside a sliding time window.
// The gateway uses it to refuse a signed credential set that has already
// been presented while its timestamp is still fresh.
package dedupe
