// Package errors provides structured error handling with i18n support.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lookup errors
	CodeGameNotFound Code = "GAME_NOT_FOUND"

	// Identity errors
	CodePlayerNotInGame    Code = "PLAYER_NOT_IN_GAME"
	CodeCredentialInvalid  Code = "CREDENTIAL_INVALID"
	CodeCredentialMismatch Code = "CREDENTIAL_GAME_MISMATCH"

	// Validation errors
	CodeInvalidCapacity   Code = "INVALID_CAPACITY"
	CodeInvalidMapConfig  Code = "INVALID_MAP_CONFIG"
	CodeInvalidPlayerName Code = "INVALID_PLAYER_NAME"
	CodeInvalidTurn       Code = "INVALID_TURN"
	CodeInvalidMoves      Code = "INVALID_MOVES"
	CodeInvalidRequest    Code = "INVALID_REQUEST"

	// Lobby conflicts
	CodeGameNotAcceptingPlayers Code = "GAME_NOT_ACCEPTING_PLAYERS"
	CodeGameFull                Code = "GAME_FULL"
	CodeAlreadyJoined           Code = "ALREADY_JOINED"

	// Turn conflicts
	CodeTurnMismatch        Code = "TURN_MISMATCH"
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodeTurnProcessing      Code = "TURN_PROCESSING"
	CodeGameNotInProgress   Code = "GAME_NOT_IN_PROGRESS"
	CodeContention          Code = "CONTENTION"

	// Infrastructure errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Kind groups codes into caller-facing failure classes.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindUnauthenticated  Kind = "unauthenticated"
	KindInvalidArgument  Kind = "invalid_argument"
	KindConflict         Kind = "conflict"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Kind classifies the code.
func (c Code) Kind() Kind {
	switch c {
	case CodeGameNotFound:
		return KindNotFound
	case CodePlayerNotInGame, CodeCredentialMismatch:
		return KindForbidden
	case CodeCredentialInvalid:
		return KindUnauthenticated
	case CodeInvalidCapacity,
		CodeInvalidMapConfig,
		CodeInvalidPlayerName,
		CodeInvalidTurn,
		CodeInvalidMoves,
		CodeInvalidRequest:
		return KindInvalidArgument
	case CodeGameNotAcceptingPlayers,
		CodeGameFull,
		CodeAlreadyJoined,
		CodeTurnMismatch,
		CodeDuplicateSubmission,
		CodeTurnProcessing,
		CodeGameNotInProgress,
		CodeContention:
		return KindConflict
	case CodeStoreUnavailable:
		return KindStoreUnavailable
	default:
		return KindUnknown
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeStoreUnavailable, CodeContention, CodeTurnProcessing:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeDuplicateSubmission, CodeAlreadyJoined:
		return codes.AlreadyExists
	case CodeContention:
		return codes.Aborted
	}
	switch c.Kind() {
	case KindNotFound:
		return codes.NotFound
	case KindForbidden:
		return codes.PermissionDenied
	case KindUnauthenticated:
		return codes.Unauthenticated
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindConflict:
		return codes.FailedPrecondition
	case KindStoreUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c.Kind() {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
