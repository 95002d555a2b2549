// Package manager owns loaded models and live chat sessions. Models are
// loaded on first use from the registry and shared by reference; sessions
// are keyed by opaque ULID handles.
//
// Files by concern:
//
//   - manager.go: core Manager type, constructor, event forwarding, readiness, registry reloads.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, Instance and session bookkeeping.
//   - ensure.go: model lookup and loading, user accounting (acquire/release).
//   - sessions.go: CreateSession/Session/DestroySession/Sessions.
//   - encoders.go: Embed and Rank on lazily opened encoder sessions.
//   - unload.go: Unload and Close.
//   - status_report.go: Status/Snapshot reporting.
//
// External packages should use public methods only. Internal types are
// subject to change.
package manager
