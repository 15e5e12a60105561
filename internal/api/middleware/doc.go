// Package middleware provides the HTTP middleware chain: CORS, per-IP rate
// limiting, and session resolution.
//
// Session resolution runs before every entity endpoint. It maps the opaque
// session token (cookie or header) to a workspace id, provisioning a fresh
// workspace when the token is absent, unknown, or expired, and exposes the
// resolved id to handlers through the request context. Handlers never see
// raw tokens.
package middleware
