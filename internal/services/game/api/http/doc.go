// Package httpapi serves the game HTTP JSON API.
//
// Routes map one to one onto the lobby, turn and polling operations of the
// domain packages. Authenticated routes take the credential from the
// X-API-Key header; the credential binds the caller to one game, and the
// game in the path must match it. Errors render as
// {"error": {"code", "message"}} with the message localized from
// Accept-Language.
//
// GET /game/{id}/watch upgrades to a websocket that pushes status frames
// until the game ends.
package httpapi
