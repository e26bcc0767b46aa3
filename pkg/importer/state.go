package importer

// State of one import attempt.
type State string

const (
	StateIdle       State = "Idle"
	StateChecking   State = "Checking"
	StateFetching   State = "Fetching"
	StateVerifying  State = "Verifying"
	StatePublishing State = "Publishing"
	StateDone       State = "Done"
)

func (s State) String() string {
	return string(s)
}

// Transition is reported to the TransitionHook on every state change.
type Transition struct {
	Name string
	From State
	To   State
}

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindUnsupportedAlgorithm ErrorKind = "UnsupportedAlgorithm"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
	KindTransport            ErrorKind = "Transport"
	KindHTTPStatus           ErrorKind = "HTTPStatus"
	KindTruncatedStream      ErrorKind = "TruncatedStream"
	KindDecompress           ErrorKind = "Decompress"
	KindChecksumMismatch     ErrorKind = "ChecksumMismatch"
	KindConflict             ErrorKind = "Conflict"
	KindStaging              ErrorKind = "Staging"
	KindRepository           ErrorKind = "Repository"
	KindPublish              ErrorKind = "Publish"
	KindCancelled            ErrorKind = "Cancelled"
)

func (k ErrorKind) String() string {
	return string(k)
}
