// Package woolfarm implements the server-side state synchronization and
// integrity engine for the llama wool farm idle game.
//
// The engine accepts client-submitted progression snapshots, verifies that
// each one is a physically possible evolution of the previously accepted
// state, merges concurrent submissions from multiple devices of the same
// account, and persists a new authoritative snapshot carrying a verifiable
// integrity checksum.
//
// The main entry point is SyncEngine.Sync. Everything below it (checksum,
// production bounds, anomaly detection, validation, conflict resolution) is
// pure and side-effect free; only snapshot loading and persistence perform
// I/O.
package woolfarm
