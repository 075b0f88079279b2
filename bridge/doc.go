// Package bridge lets a worker goroutine ask the foreground for a file path
// and wait for the answer.
//
// The bridge holds at most one outstanding request. RequestPath posts the
// request's Handler to the foreground and blocks the calling worker until
// one of the following ends it: the foreground resolves it, the context is
// done, the timeout elapses, the controller calls CancelPending, or the
// foreground shuts down. Every ending other than a chosen path is reported
// as ErrCancelled, so a worker never waits on a consumer that went away.
//
// The foreground side is asynchronous. A Handler may answer immediately or
// keep a prompt open and answer later with ResolveRequest; answers for a
// request that already ended are rejected with ErrNoRequest. When a request
// ends unanswered, the withdraw func the Handler returned is posted to the
// foreground so the prompt does not outlive its question.
package bridge
