// Package cache implements the AR asset cache: a persistent, size-bounded,
// time-expiring store that maps a remote asset URL (video, image or compiled
// tracking data) to its downloaded bytes. Records live in a SQLite index with
// secondary access paths on stored_at (capacity eviction) and expires_at
// (expiry sweep); payloads live in a content-addressed blob directory written
// with temp file + rename semantics.
//
// The cache is strictly best-effort. Every exported operation returns an
// outcome value instead of an error so that a broken or missing store degrades
// to "caching disabled" and never blocks the viewer from loading an asset.
package cache
