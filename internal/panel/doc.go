// Package panel serves the bench dashboard: a single page that lists the
// instruments open in `instrumental serve` and shows facet changes live
// over the API's WebSocket.
//
// The page is embedded with go:embed. A token for an API with auth enabled
// is passed once as /panel/#token=... and kept in the browser's local
// storage.
package panel
