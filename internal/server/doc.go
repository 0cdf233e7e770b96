// Package server runs the short-lived localhost HTTP server that receives the Spotify
// OAuth2 redirect during "ytsync auth spotify".
//
// # Router
//
// [BasicRouter] wraps [http.ServeMux] with method filtering and a [Middleware] stack.
// The first middleware added is the outermost wrapper.
//
// # OAuth Callback Handler
//
// [OAuthHandler] validates the state parameter, exchanges the authorization code through an
// [Exchanger] and publishes exactly one [OAuthResult]. Later callbacks are rejected.
//
// [CallbackServer] binds the listener before the browser is opened so the redirect can never
// arrive ahead of the server, then waits for the handler's result or a timeout.
package server
