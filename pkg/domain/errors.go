package domain

// ErrorKind classifies a failure for callers: validation errors need corrected
// input, authorization failures are fatal to the call, state conflicts may be
// retried once the conflicting condition changes, resource errors defer the
// operation, and external errors come from a misbehaving collaborator.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindResource      ErrorKind = "resource"
	KindExternal      ErrorKind = "external"
)

// Error is the only error shape that crosses a component boundary. Code is a
// stable machine-readable identifier; Kind drives HTTP status mapping.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newErr(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidParameter    = newErr(KindValidation, "InvalidParameter", "task parameters are invalid")
	ErrTaskNotActive       = newErr(KindStateConflict, "TaskNotActive", "task is not accepting completions")
	ErrTaskWindowClosed    = newErr(KindStateConflict, "TaskWindowClosed", "current time is outside the task window")
	ErrTaskFull            = newErr(KindStateConflict, "TaskFull", "task reached its participant cap")
	ErrDuplicateCompletion = newErr(KindStateConflict, "DuplicateCompletion", "completion already exists for this task and participant")
	ErrUnknownCompletion   = newErr(KindStateConflict, "UnknownCompletion", "no completion exists for this task and participant")
	ErrUnknownTask         = newErr(KindValidation, "UnknownTask", "task does not exist")
	ErrInvalidTransition   = newErr(KindStateConflict, "InvalidTransition", "task status transition is not allowed")

	ErrNoVerifierForCategory = newErr(KindValidation, "NoVerifierForCategory", "no verifier registered for this proof category")
	ErrUnknownRequest        = newErr(KindValidation, "UnknownRequest", "verification request does not exist")
	ErrAlreadyProcessed      = newErr(KindStateConflict, "AlreadyProcessed", "verification request already carries a verdict")
	ErrScoreOutOfRange       = newErr(KindValidation, "ScoreOutOfRange", "risk score must be between 0 and 100")
	ErrReplayedNonce         = newErr(KindStateConflict, "ReplayedNonce", "verifier nonce has already been consumed")
	ErrVerifierMismatch      = newErr(KindAuthorization, "VerifierMismatch", "caller is not the verifier registered for this category")

	ErrAlreadyRegistered   = newErr(KindStateConflict, "AlreadyRegistered", "participant already has a referral record")
	ErrInvalidReferrerCode = newErr(KindValidation, "InvalidReferrerCode", "referral code does not resolve to a known identity")
	ErrSelfReferral        = newErr(KindValidation, "SelfReferral", "a participant cannot refer themself")

	ErrAssetNotSupported       = newErr(KindValidation, "AssetNotSupported", "reward asset is not on the allow-list")
	ErrInsufficientPoolBalance = newErr(KindResource, "InsufficientPoolBalance", "asset pool holds less than the gross reward")

	ErrNotAuthorized = newErr(KindAuthorization, "NotAuthorized", "caller lacks the required capability")
)
