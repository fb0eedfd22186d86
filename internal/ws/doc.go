// Package ws is the websocket gateway for terminal sessions.
//
// A connection to /ws/sessions/:id becomes one viewer of that session's hub:
//   - Client: the viewer, with a bounded send queue; a full queue closes it
//   - Handler: upgrades the request, attaches the client and runs its pumps
//
// Frames are JSON text. Clients send input and resize frames; the server
// sends one scrollback frame, then output frames, then one exit frame, after
// which the connection is closed. Malformed and unknown frames are ignored.
package ws
