// Package bus implements the session-scoped message bus that connects the
// coordinator with its stages.
//
// Each Bus belongs to exactly one session. It keeps one unbounded inbound
// Queue per stage name, records every published Message in an append-only
// history, and correlates responses with waiting requesters through one-shot
// channels keyed by the requester's name and the correlation id. A response
// whose requester is waiting never enters a queue, so unrelated messages in
// that queue keep their order.
//
// A Registry owns the mapping from session id to Bus and closes a session's
// bus when it is removed.
//
//	reg := bus.NewRegistry()
//	b := reg.Open(sessionID)
//	inbox := b.Subscribe("retrieval")
//	resp, err := b.SendAndAwait(ctx, req, 0) // 0 means DefaultTimeout
package bus
