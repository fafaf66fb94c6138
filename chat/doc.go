// Package chat drives the synthetic audience.
//
// The Sequencer turns one accepted reply into a short burst of messages from
// several synthetic viewers, paced by a cooldown and a busy flag so bursts
// never overlap. The Ambient injector posts occasional one-word chatter while
// the overlay is quiet. Both schedule work on a clock.Clock through a
// Scheduler, so tests run them on a simulated clock.
//
// The package also mirrors real chat into the same feed:
//   - StartTwitchBridge joins a Twitch channel over IRC and appends every
//     message with source "twitch".
//   - AutoBridge polls Helix live status and runs the Twitch bridge only while
//     the channel is live.
package chat
