// Package testutil provides in-memory sources, recording notifiers and fixed
// run ids for deterministic sync tests.
package testutil
