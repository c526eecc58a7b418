// Package access decides whether an inbound message may reach the agent.
//
// Decisions are three-way: allow, deny, or ignore. Ignore exists so a
// group-chat adapter can stay silent without the caller treating the
// outcome as a policy violation worth surfacing.
package access
