// Package session implements the hierarchical session store. Sessions are
// nested through ParentID, expire by TTL (a one-way Active flip, never a
// deletion) and report every state change to a core.Recorder.
package session
