// Package registry owns game records and their state machine.
//
// A game moves through
//
//	waiting_for_players -> in_progress <-> processing_turn -> complete
//
// and may be abandoned from any non-terminal state by the sweeper. Every
// transition is a compare-and-swap on the game record, so concurrent callers
// in any number of processes agree on a single winner.
package registry
