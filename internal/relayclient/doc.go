// Package relayclient connects a peer to moss-relay.
//
// A Client holds one Connect stream. It satisfies signal.Sender for the
// presence tracker and messenger, presence.Roster through ListGroupMembers,
// and the display-name half of the messenger host through DisplayName.
package relayclient
