package storage

import "strconv"

// ActiveGamesKey is the member map indexing live games.
const ActiveGamesKey = "games:active"

// GamePrefix is shared by every key belonging to one game.
func GamePrefix(gameID string) string {
	return "game:" + gameID + ":"
}

// GameMetaKey holds the game record.
func GameMetaKey(gameID string) string {
	return GamePrefix(gameID) + "meta"
}

// GameMapKey holds the map snapshot blob.
func GameMapKey(gameID string) string {
	return GamePrefix(gameID) + "map"
}

// TurnMovesKey holds the submissions of one resolution attempt of a turn.
func TurnMovesKey(gameID string, turn, attempt int) string {
	return GamePrefix(gameID) + "turn:" + strconv.Itoa(turn) + ":attempt:" + strconv.Itoa(attempt) + ":moves"
}

// TurnResultKey holds the write-once result of a turn.
func TurnResultKey(gameID string, turn int) string {
	return GamePrefix(gameID) + "turn:" + strconv.Itoa(turn) + ":result"
}

// SessionKey holds the session record of a credential.
func SessionKey(jti string) string {
	return "session:" + jti
}

// PlayerGameKey points a player at their current game.
func PlayerGameKey(playerID string) string {
	return "player:" + playerID + ":current_game"
}
