// Package channel defines the plugin contract every chat-platform adapter
// implements, and the registry the gateway uses to hold named adapter
// instances.
//
// A plugin is a capability set: Start, Stop, SendText, Status, Type.
// Start must leave the adapter either connected or in the error state,
// never stuck in connecting. Stop is idempotent and clears any
// platform-specific cursor so a later Start resumes cleanly.
package channel
