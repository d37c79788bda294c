// Package gate routes Store changes to consumer actions. A Gate filters by
// category and ignore list, can hold back every action until all relevant
// loads are terminal, and classifies each change into exactly one of
// Started, Progress, Completed or Failed. A Listener is the ungated variant
// that sees every change.
package gate
