// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate: deterministic clocks, recording and failing audit
// collaborators. They are not intended for production usage.
package testutil
