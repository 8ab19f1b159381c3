// Package session keeps one meter connected and runs its data through the
// SML pipeline.
//
// A Supervisor owns the connection and the Pipeline of one meter. Run
// loops through the states Connecting, Connected and Backoff until its
// context is cancelled:
//
//	Disconnected -> Connecting -> Connected -> Backoff(n) -> Connecting ...
//
// Pipeline.Feed strips the transport prefix of every inbound message, then
// feeds the framer. Each checksum-valid frame is decoded and projected,
// and the resulting snapshot goes to the Publisher. Bad frames and undecodable payloads are
// counted and skipped. Only transport errors end a session. The framer is
// reset on every new connection, so bytes from a dead connection are never
// joined with bytes from the next one.
//
// Reconnects wait according to a backoff.BackOff policy (see NewBackoff).
// The policy is reset after a session that produced at least one valid
// frame.
package session
