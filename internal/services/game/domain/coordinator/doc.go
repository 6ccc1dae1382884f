// Package coordinator drives the turn lifecycle of a game.
//
// Submissions go through the ledger. The submission that completes a turn
// moves the game from in_progress to processing_turn with a compare-and-swap
// on (state, turn, attempt); only the winner of that swap dispatches the
// resolution job, so each attempt of a turn is resolved at most once. The job
// writes the turn result with create-if-absent and then advances the game, or
// reverts it to in_progress with a new attempt when anything before the
// result write fails.
//
// The sweeper finishes what requests cannot: it abandons idle games,
// recovers games stuck in processing_turn, and re-dispatches turns whose
// last submitter lost the race to start processing.
package coordinator
