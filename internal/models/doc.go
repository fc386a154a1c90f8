// Package models defines the entities persisted by the moderation store.
//
// Entities mirror the plugin's tables:
//   - [Player] : a player the server has seen, keyed by UUID
//   - [Punishment] : a ban, kick, mute, warning or jail, optionally expiring
//   - [StaffNote] : a private remark left by staff
//   - [ServerIdentity] : the server's id, secret and web panel claim state
//   - [WebCommand] : a web panel command that has already been executed
//   - [Counter] : a named monotonic sequence, such as case numbers
//
// [PlayerRecord] bundles a player with their punishments and notes for export.
//
// Entities with a Validate method are checked before every write. Timestamps are kept at
// millisecond precision in UTC; use [Now] rather than [time.Now] when creating them.
package models
