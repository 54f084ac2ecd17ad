// Package middleware provides HTTP middleware for the hub's gin engine.
//
// Components:
//   - CORS: admits cross-origin requests from trusted origins only
//   - RateLimit: per-IP token bucket guarding the upgrade endpoint
package middleware
