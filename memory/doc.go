// Package memory houses implementations of the external memory collaborator:
// an append-only audit sink that also serves record content to the conflict
// resolver. InMemoryStore lives here; durable backends live in sub-packages
// (sqlite, graph) so only the wiring layer decides which one to instantiate.
package memory
