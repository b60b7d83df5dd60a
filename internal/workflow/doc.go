// Package workflow advances lectures through acquisition, transcription,
// notes and frames.
//
// The Scheduler turns a PipelineRequest into stage jobs. It decides which
// stage each lecture needs next, moves that stage to queued with a
// compare-and-set against the store, and submits the job to the worker pool.
// Runner executes one job: it claims the stage, calls the collaborator,
// records the outcome and publishes events. When a job finishes, the pool's
// completion hook hands the outcome to Scheduler.Continue, which applies the
// job's chain policy and enqueues the next unmet stage.
//
// Manager wires the pool, scheduler, runner, event hub and summary tracker
// together and is what the daemon talks to.
package workflow
