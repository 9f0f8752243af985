package types

// Version is the canonical project version.
// The collector, the producer and the frame format share this version.
const Version = "0.3.0"

// ProtocolVersion is carried in notification events so downstream consumers
// can detect incompatible collectors.
const ProtocolVersion = Version
