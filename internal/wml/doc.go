// Package wml owns the tag-text metadata tree used on the wire.
//
// Ownership boundary:
// - Config attribute/child tree
// - document and single-root parsing with depth/size caps
// - deterministic serialization
//
// Text shape:
//
//	[campaign]
//		name="Brave_Wanderer"
//		description="line one
//	line two"
//	[/campaign]
//
// Quoted values may span lines and use "" for a literal quote. Unquoted values
// run to end of line and are trimmed. Lines starting with # are comments.
package wml
