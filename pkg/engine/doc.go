// Package engine resolves abstract capabilities against remote targets.
//
// A consumer asks for a capability ("the guest-agent controller", "the
// key/value-pair client") and a target; the engine selects the
// platform-correct provider variant, resolves its declared dependencies,
// probes for its presence, installs it through the variant's declared
// strategy when absent and permitted, verifies the install by re-probing,
// and memoizes the result so repeated use across a run costs no further
// remote round-trips.
//
// The moving parts:
//
//   - Registry: ordered descriptor lists per capability; first-match-wins
//     descriptor selection over the target's platform profile.
//   - Probe: ordered candidate command chains; the first success becomes
//     the remembered working form.
//   - Strategy: download-by-architecture, build-from-source,
//     package-manager install, or not-installable.
//   - Cache: per-(capability, target) memo with per-key serialization of
//     concurrent resolutions. Process-local only; never persisted.
//   - Resolver: the entry point tying the above together, with optional
//     policy gating, journaling, metrics, and events.
//
// Failures are classified (see ErrorKind) so callers can branch on "skip
// this test on this platform" versus "this run failed and should be
// investigated".
package engine
