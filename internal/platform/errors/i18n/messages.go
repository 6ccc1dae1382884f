package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
var enUSMessages = map[Code]string{
	"UNKNOWN":                    "An unexpected error occurred.",
	"GAME_NOT_FOUND":             "Game not found.",
	"PLAYER_NOT_IN_GAME":         "You are not a player in this game.",
	"CREDENTIAL_INVALID":         "The API key is missing, invalid or expired.",
	"CREDENTIAL_GAME_MISMATCH":   "The API key does not belong to this game.",
	"INVALID_CAPACITY":           "Player count must be between {{.Min}} and {{.Max}}.",
	"INVALID_MAP_CONFIG":         "Map width and height must be between {{.Min}} and {{.Max}}.",
	"INVALID_PLAYER_NAME":        "Player name must be between {{.Min}} and {{.Max}} characters.",
	"INVALID_TURN":               "Turn must be zero or greater.",
	"INVALID_MOVES":              "Every move needs a unit_id and an action.",
	"INVALID_REQUEST":            "The request body could not be read.",
	"GAME_NOT_ACCEPTING_PLAYERS": "This game is no longer accepting players.",
	"GAME_FULL":                  "This game is full.",
	"ALREADY_JOINED":             "You have already joined this game.",
	"TURN_MISMATCH":              "Expected moves for turn {{.Expected}}, got turn {{.Got}}.",
	"DUPLICATE_SUBMISSION":       "Moves for this turn were already submitted.",
	"TURN_PROCESSING":            "The turn is being processed. Try again shortly.",
	"GAME_NOT_IN_PROGRESS":       "The game is not in progress.",
	"CONTENTION":                 "The game is busy. Try again.",
	"STORE_UNAVAILABLE":          "Storage is temporarily unavailable.",
}

var esMessages = map[Code]string{
	"UNKNOWN":                    "Ocurrió un error inesperado.",
	"GAME_NOT_FOUND":             "Partida no encontrada.",
	"PLAYER_NOT_IN_GAME":         "No eres jugador de esta partida.",
	"CREDENTIAL_INVALID":         "La clave de API falta, no es válida o expiró.",
	"CREDENTIAL_GAME_MISMATCH":   "La clave de API no pertenece a esta partida.",
	"INVALID_CAPACITY":           "El número de jugadores debe estar entre {{.Min}} y {{.Max}}.",
	"INVALID_MAP_CONFIG":         "El ancho y el alto del mapa deben estar entre {{.Min}} y {{.Max}}.",
	"INVALID_PLAYER_NAME":        "El nombre del jugador debe tener entre {{.Min}} y {{.Max}} caracteres.",
	"INVALID_TURN":               "El turno debe ser cero o mayor.",
	"INVALID_MOVES":              "Cada movimiento necesita unit_id y action.",
	"INVALID_REQUEST":            "No se pudo leer el cuerpo de la solicitud.",
	"GAME_NOT_ACCEPTING_PLAYERS": "Esta partida ya no acepta jugadores.",
	"GAME_FULL":                  "Esta partida está llena.",
	"ALREADY_JOINED":             "Ya te uniste a esta partida.",
	"TURN_MISMATCH":              "Se esperaban movimientos para el turno {{.Expected}}, se recibió el turno {{.Got}}.",
	"DUPLICATE_SUBMISSION":       "Los movimientos de este turno ya fueron enviados.",
	"TURN_PROCESSING":            "El turno se está procesando. Inténtalo de nuevo en breve.",
	"GAME_NOT_IN_PROGRESS":       "La partida no está en curso.",
	"CONTENTION":                 "La partida está ocupada. Inténtalo de nuevo.",
	"STORE_UNAVAILABLE":          "El almacenamiento no está disponible temporalmente.",
}
