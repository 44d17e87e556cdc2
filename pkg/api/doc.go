// Package api exposes the gallery over HTTP.
//
// JSON routes live under /api/v1 and are grouped by handler type:
//
//	AuthHandlers     /auth/session, /users, /users/me, /users/{id}/sessions
//	SpaceHandlers    /spaces, /spaces/{id}, /spaces/{id}/permissions, /spaces/{id}/members
//	PictureHandlers  /pictures, /pictures/{id}, /pictures/{id}/content, /spaces/{id}/pictures
//
// The collaborative-edit handshake is mounted at /ws/picture/edit.
//
// Handlers translate domain errors with httputil.WriteAppError, so status
// codes follow the apperr kind: 400 invalid argument, 401 authentication
// required, 403 permission denied, 404 not found, 409 duplicate space, 413 quota
// exceeded, 502 storage failure.
package api
