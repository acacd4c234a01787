// tlsrelay adapts a plaintext, callback-driven byte transport
// (package transport) into a TLS-encrypted one. A Channel owns an
// in-memory TLS adapter (package adapter) and two ciphertext buffers
// (package cbuffer) implicitly, pumping ciphertext between them and
// the underlying transport while surfacing a plaintext Read/Write
// surface identical in shape to the transport it wraps.
package tlsrelay
