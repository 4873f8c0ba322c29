// Package events publishes finished transcripts to downstream consumers over
// Redis pub/sub.
package events
