// Package server exposes the pushgate HTTP surface: account registration,
// login and logout, profile and group pages, server push to a user's channel
// and the WebSocket endpoint that opens push channels.
//
// Handlers are plain httprouter handles on a Server value. Every dependency
// (authenticator, session registry, token issuer, channel manager, logger) is
// injected through Deps; the package holds no global state.
package server
