// Package messenger delivers short text messages over the best-effort signal
// channel.
//
// Every Msg sent to a peer leaves an expectation that the peer will Ack it.
// There is no retry timer: whenever any signal arrives from a peer, every
// message it still owes an Ack for is sent to it again.
package messenger
