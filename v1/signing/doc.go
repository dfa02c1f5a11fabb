// Package signing implements periodic signing-key rotation for the root
// tenant. A fixed global lease serializes rotation across processes; the
// rotation triggers are evaluated against the newest key by expiry, so a
// missed window self-heals on the next scheduled run.
package signing
