// Package chat implements the real-time moderated chat relay.
//
// It keeps WebSocket lifecycle, room membership, and fan-out isolated from
// the moderation gate and the message store so each concern can be exercised
// and replaced independently.
package chat
