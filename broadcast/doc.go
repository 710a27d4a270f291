// Package broadcast is the unpersisted publish/subscribe channel the
// verification surface uses to tell waiting coordinators that a step-up
// succeeded or was cancelled.
//
// Two transports are provided: [Hub] for contexts sharing a process, and
// [RedisTopic] for contexts behind different server instances. Both treat
// delivery as best-effort; receivers must tolerate duplicates and loss.
package broadcast
