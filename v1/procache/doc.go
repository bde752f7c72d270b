// Package procache provides a process-wide key-value cache that memoizes
// computed values and returns to a declared initial state on every reload.
//
// A ProcessCache is created from a Seed, which lists the entries present at
// load time: fixed values and compute functions that fill an entry the first
// time it is read. Reset drops everything written since the last load and
// builds the seed state again, so no entry survives a reload unless the seed
// declares it. A Reloader connects Reset to a syncbus topic so that a reload
// can be triggered from another process.
package procache
