// Package repositories implements persistence for all moderation entities.
//
// Every repository is built on the generic [Repository], which maps one record type onto one
// table through a [Mapper] and provides get, put (upsert), delete, count and lazy scans.
// Domain repositories embed it and add the queries the plugin needs.
//
// Key Implementations:
//   - [PlayerRepository] : players keyed by UUID with case-insensitive name lookups
//   - [PunishmentRepository] : bans, mutes, warnings and their expiry
//   - [NoteRepository] : staff notes on players
//   - [IdentityRepository] : the server's web panel identity and claim token
//   - [WebCommandRepository] : idempotency log of executed web commands
//   - [CounterRepository] : atomically incremented named counters
//
// A repository used directly opens a transaction per call. Bind it to a caller's transaction
// with In, or bind a whole [Set], to group several calls into one atomic unit.
package repositories
