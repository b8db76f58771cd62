// Package config loads configuration for moss-relay and moss-peer.
//
// # Relay
//
// The relay reads YAML:
//
//	server:
//	  grpc_addr: ":50051"
//	  http_addr: ":8080"
//	database:
//	  path: "./relay.db"
//	auth:
//	  jwt_secret: "${MOSS_JWT_SECRET}"
//	  token_ttl: "720h"
//
// An empty auth.jwt_secret disables token checks; peers then identify themselves
// with the x-moss-agent header.
//
// # Peer
//
// A peer reads TOML:
//
//	[relay]
//	addr = "localhost:50051"
//	token = "${MOSS_TOKEN}"
//	agent_id = "u..."
//
//	[presence]
//	tick_interval = "8s"
//
// # Environment Variable Expansion
//
// Both formats expand ${VAR_NAME} before decoding. Unset variables become empty
// strings.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax and are parsed after decoding, so a bad
// value is reported with its field name.
package config
