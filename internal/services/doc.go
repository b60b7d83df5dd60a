// Package services defines shared utilities consumed by the pipeline runner
// and the stage collaborators under its subpackages.
//
// Key responsibilities:
//   - Context helpers that stamp lecture IDs, stage names, worker labels, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures stay
//     classifiable with errors.Is after they cross package boundaries.
//
// The fetch, transcribe, notes, and frames subpackages hold the concrete
// collaborators the daemon wires into the workflow.
package services
