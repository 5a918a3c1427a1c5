// Package protocol owns the wire contract and parsing primitives.
//
// Ownership boundary:
// - NetworkData envelope (tag-text metadata + opaque binary)
// - encode/decode of one message (metadata, size header, binary)
// - request discriminator peek and reply construction
//
// One message on the wire:
//
//	[request_campaign]
//		name="Brave_Wanderer"
//	[/request_campaign]
//	0
//
// The metadata section is exactly one root tag; its closing tag ends the
// section. The size header is ASCII decimal followed by a newline and announces
// the exact byte length of the binary section that follows.
package protocol
