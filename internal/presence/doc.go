// Package presence tracks which group members are reachable.
//
// Each agent pings only the peers NeedsPinging selects, so every pair of
// agents exchanges one Ping/Pong per tick instead of two. Peers not heard
// from within the offline threshold are swept to offline on the next tick.
package presence
