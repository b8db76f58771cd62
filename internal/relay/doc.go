// Package relay implements moss-relay, the signal transport peers share.
//
// Each peer holds one Connect stream. The relay binds it to the agent id from
// the auth interceptor, sends a welcome frame, and
// then forwards every OutboundFrame to the listed recipients with From filled
// in from that binding. Delivery is best effort: recipients that are offline or
// whose outbound queue is full simply miss the frame. The peer-side messenger
// repairs this with acks and resend-on-contact.
//
// The relay also records every agent that ever connected in a SQLite store so
// ListMembers can return offline members too, and serves /health,
// /health/ready, /api/members and optionally /metrics over HTTP.
package relay
