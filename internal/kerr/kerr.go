// Package kerr defines the stable wire error enumeration shared by every
// JSON error body the server emits, plus the tagged-outcome error type
// components return across their public contracts.
package kerr

import "fmt"

// Code is a member of the stable wire error enumeration. Its numeric value
// is part of the REST contract: do not reorder existing members.
type Code int

const (
	NoError Code = iota
	CmdlineHomeMissing
	CmdlineInvalidFlag
	NoDatabaseFile
	JSONParseFail
	MainInterrupted
	JobNameUnknown
	JobNameTaken
	JobDescriptionInvalid
	EmptyRestRequest
	JobIsRunning
	JobIsNotRunning
	JobScheduleInvalid
	ProcessLaunchFailed
	DataKeyTaken
	DataKeyUnknown
	DataStoreFull
	AuthenticationFail
)

var names = map[Code]string{
	NoError:               "NO_ERROR",
	CmdlineHomeMissing:    "CMDLINE_HOME_MISSING",
	CmdlineInvalidFlag:    "CMDLINE_INVALID_FLAG",
	NoDatabaseFile:        "NO_DATABASE_FILE",
	JSONParseFail:         "JSON_PARSE_FAIL",
	MainInterrupted:       "MAIN_INTERRUPTED",
	JobNameUnknown:        "JOB_NAME_UNKNOWN",
	JobNameTaken:          "JOB_NAME_TAKEN",
	JobDescriptionInvalid: "JOB_DESCRIPTION_INVALID",
	EmptyRestRequest:      "EMPTY_REST_REQUEST",
	JobIsRunning:          "JOB_IS_RUNNING",
	JobIsNotRunning:       "JOB_IS_NOT_RUNNING",
	JobScheduleInvalid:    "JOB_SCHEDULE_INVALID",
	ProcessLaunchFailed:   "PROCESS_LAUNCH_FAILED",
	DataKeyTaken:          "DATA_KEY_TAKEN",
	DataKeyUnknown:        "DATA_KEY_UNKNOWN",
	DataStoreFull:         "DATA_STORE_FULL",
	AuthenticationFail:    "AUTHENTICATION_FAIL",
}

// String returns the literal wire spelling of the code, e.g. "JOB_NAME_UNKNOWN".
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR(%d)", int(c))
}

// Error is the tagged outcome returned by every component-layer operation
// that can fail. Callers recover the wire code with errors.As.
type Error struct {
	Code    Code
	Message string
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
