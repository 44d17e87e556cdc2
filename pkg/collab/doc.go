// Package collab guards the collaborative picture editing endpoint.
//
// Only the connection-time permission check lives here. A connection is
// upgraded when the caller is authenticated, the picture exists in a team
// space and the caller holds picture:edit there. What happens on the
// connection afterwards is up to the SessionHandler.
package collab
