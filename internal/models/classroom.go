package models

import "time"

// Session status values stored on check-in documents.
const (
	CheckinStatusInProgress = 0
)

// Failure stages reported on CheckinFailure.
const (
	CheckinStageAuthenticate = "authenticate"
	CheckinStageRoster       = "roster"
	CheckinStageSession      = "session"
	CheckinStageSnapshot     = "snapshot"
	CheckinStageFinalize     = "finalize"
	CheckinStageHistory      = "history"
)

// CourseInfo is the descriptive sub-document of a classroom.
type CourseInfo struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Photo string `json:"photo,omitempty"`
}

// Student is one roster entry. Fields holds every stored field so that score
// snapshots copy the record verbatim.
type Student struct {
	ID     string                 `json:"id"`
	StdID  string                 `json:"stdid,omitempty"`
	Name   string                 `json:"name"`
	Photo  string                 `json:"photo,omitempty"`
	Status int                    `json:"status"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Key identifies the student within a session snapshot.
func (s Student) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.StdID
}

// DisplayID is the identifier shown in roster tables.
func (s Student) DisplayID() string {
	if s.StdID != "" {
		return s.StdID
	}
	return s.ID
}

// CheckinSession is one attendance-taking event.
type CheckinSession struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Date        time.Time `json:"date"`
	Status      int       `json:"status"`
	Owner       string    `json:"owner"`
	Count       *int      `json:"count,omitempty"`
	Provisional bool      `json:"provisional"`
}

// InProgress reports whether the session is still taking attendance.
func (s CheckinSession) InProgress() bool {
	return s.Status == CheckinStatusInProgress
}

// ScoreRecord is the per-student snapshot stored under a session.
type ScoreRecord struct {
	StudentID string                 `json:"student_id"`
	StdID     string                 `json:"stdid,omitempty"`
	Name      string                 `json:"name"`
	Status    int                    `json:"status"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// ClassroomView is everything the classroom page needs.
type ClassroomView struct {
	ClassroomID string           `json:"classroom_id"`
	Info        *CourseInfo      `json:"info"`
	Students    []Student        `json:"students"`
	Sessions    []CheckinSession `json:"sessions"`
}

// CheckinFailure describes how far a failed check-in creation progressed.
type CheckinFailure struct {
	SessionCreated   bool     `json:"session_created"`
	SessionID        string   `json:"session_id,omitempty"`
	Stage            string   `json:"stage"`
	FailedStudentIDs []string `json:"failed_student_ids,omitempty"`
}

// ScoreSheet is a session together with its roster snapshot.
type ScoreSheet struct {
	ClassroomID string         `json:"classroom_id"`
	Session     CheckinSession `json:"session"`
	Scores      []ScoreRecord  `json:"scores"`
}

// StatusLabel is the human-readable session state.
func (s CheckinSession) StatusLabel() string {
	if s.InProgress() {
		return "in progress"
	}
	return "finished"
}
