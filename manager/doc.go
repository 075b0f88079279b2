// Package manager owns the lifecycle of the single open dataset.
//
// The Controller is a three-state machine (Empty, Opening, Active). Open
// starts a worker goroutine that loads the new session; when the load
// finishes the worker posts its completion to the foreground, which either
// promotes the session to Active and attaches it to the Exposer, or drops it.
//
// Every Open and Close bumps a generation counter. A worker whose generation
// is no longer current is stale: its status updates are not forwarded, its
// completion is ignored, and its session is closed once its Load returns.
// Workers are chained so that at most one Load runs at a time, but the
// foreground never waits for one.
//
// Conversions ask the user for a destination through the Controller's
// bridge. The bridge handler runs on the foreground and shows the Surface's
// path prompt; closing or replacing the session cancels an unanswered prompt.
package manager
