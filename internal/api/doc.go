// Package api serves the open-instrument session over HTTP for
// `instrumental serve`.
//
// Endpoints (all under /api/v1):
//
//	GET    /health
//	GET    /instruments                    list available instruments (?server=, ?module=)
//	GET    /open                           list instruments opened through the session
//	POST   /open                           resolve and open {"request": ..., "policy": ...}
//	GET    /open/{id}                      one open instrument
//	DELETE /open/{id}                      close it
//	GET    /open/{id}/facets/{facet}       read a facet (?fresh=true bypasses the cache)
//	PUT    /open/{id}/facets/{facet}       set a facet {"value": ...}
//	POST   /open/{id}/alias                save it under {"name": ...}
//	GET    /aliases                        saved aliases
//	GET    /audit                          audit log (?action=, ?instrument=, ?module=, ?limit=, ?offset=)
//	GET    /ws                             event stream
//
// The request of POST /open is anything the resolver accepts: a parameter
// object or an alias name. Quantities are written as strings ("1550 nm")
// and read back as {"magnitude", "unit"} objects.
//
// # Security
//
// When api.token_secret is set every route except /health requires a bearer
// token minted by `instrumental token`. Viewer tokens may only read; the
// WebSocket takes its token from the ?token= query parameter since browsers
// cannot set headers on the upgrade request.
//
// # Event stream
//
// WebSocket clients subscribe to channels:
//
//	{"type": "subscribe", "id": "1", "payload": {"channels": ["facet.changed"]}}
//
// Channels are instrument.opened, instrument.closed and facet.changed. The
// Hub is a driver.Listener; register it on the session before opening
// instruments.
//
// The bench dashboard is served at /panel/.
//
// Instruments opened through POST /open are held by the server until they
// are closed, so the session's weak references keep them.
package api
