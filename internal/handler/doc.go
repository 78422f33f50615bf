// Package handler exposes the cache index over HTTP: object upload, download,
// import and delete by key, identity-to-key lookup, and an optional
// fetch-through path that fills the cache from a configured upstream.
package handler
