// Package broker runs the gateway's session operations for authenticated wallets.
//
// A Broker composes the session registry, the provisioner and the tier table:
//
//   - Spawn resolves the image (explicit image_ref, then the agent type's
//     default, then the chat default), sizes the container from the caller's
//     tier and registers the session only if the provisioner succeeds.
//   - Stop removes the session locally first, then asks the provisioner to
//     stop it. A failed external stop is reported and queued.
//   - Status, Usage, Tiers and Agents are reads.
//
// The Reconciler retries queued stops until the provisioner confirms them.
// Every outcome is appended to the store.Journal when one is configured and
// published to the feed for live subscribers.
package broker
