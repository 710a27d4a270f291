// Package reauthclient is the caller side of step-up reauthentication.
//
// A [Coordinator] runs a gated action through an [Executor]. When the server
// answers NEED_REAUTH it keeps the action as the single pending action,
// subscribes to a broadcast topic, asks a [SurfaceOpener] to open the
// verification surface and waits. A reauth-success message replays the
// pending action exactly once; reauth-cancelled, a proof timeout or a newer
// flow resolve the [Attempt] without replaying.
//
// The verification surface itself is modelled by [Surface], which proves
// identity through the API and publishes the outcome on the same topic.
// [Client] talks to the httpapi server and doubles as an Executor, and
// [RemoteTopic] carries broadcasts over the server relay when the two
// contexts share no process.
package reauthclient
