// Package auth authenticates agents connecting to the signal relay.
//
// # Tokens
//
// The relay mints HS256 JWTs whose sub claim is the agent id in its "u"
// prefixed text form. Peers present them as "authorization: Bearer <token>"
// gRPC metadata. The secret must be at least MinSecretLength bytes.
//
// # Development mode
//
// With no secret configured the relay installs the NoAuth interceptors,
// which take the agent id from the x-moss-agent header as given. Anyone can
// claim any identity in this mode.
//
// # Context
//
// Both interceptor flavours attach an AgentContext that handlers read with
// FromContext. The relay stamps every routed signal with that AgentID, so a
// peer cannot forge the sender of a signal.
package auth
