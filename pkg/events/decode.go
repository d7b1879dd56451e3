package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown event type")
	ErrMissingRoom    = errors.New("missing room id")
)

// DecodeError wraps a decode failure with the offending frame's raw bytes
// so callers can log it. Decode failures are always recoverable: the caller
// logs and drops the frame, never the connection.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses a raw push frame into an Envelope. Parsing is best-effort:
// malformed JSON, an unrecognized type, or a frame with no room id all
// yield a *DecodeError.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	if !IsKnown(env.Type) {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %q", ErrUnknownType, env.Type)}
	}
	if env.EntityID() == "" {
		return nil, &DecodeError{Raw: raw, Err: ErrMissingRoom}
	}
	return &env, nil
}

// ParsePayload unmarshals the envelope's data field into the typed payload
// for its event type.
func ParsePayload(env *Envelope) (interface{}, error) {
	switch env.Type {
	case ContestStarted:
		return parseInto[ContestStartedPayload](env)
	case ContestEnded:
		return parseInto[ContestEndedPayload](env)
	case ParticipantJoined:
		return parseInto[ParticipantJoinedPayload](env)
	case ParticipantLeft:
		return parseInto[ParticipantLeftPayload](env)
	case SubmissionAccepted:
		return parseInto[SubmissionAcceptedPayload](env)
	case ProblemSolved:
		return parseInto[ProblemSolvedPayload](env)
	case RankUpdated:
		return parseInto[RankUpdatedPayload](env)
	case LeaderboardUpdated:
		return parseInto[LeaderboardUpdatedPayload](env)
	case TimerUpdated:
		return parseInto[TimerUpdatedPayload](env)
	case ContestNotification:
		return parseInto[ContestNotificationPayload](env)
	case ChatMessage:
		return parseInto[MessagePayload](env)
	case PresenceUpdate:
		return parseInto[PresenceUpdatePayload](env)
	case ThreadSettingsChanged:
		return parseInto[ThreadSettingsPayload](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func parseInto[T any](env *Envelope) (*T, error) {
	var payload T
	// Some events carry no data at all; an absent payload is the zero value.
	if len(env.Data) == 0 {
		return &payload, nil
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, &DecodeError{Raw: env.Data, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	return &payload, nil
}
