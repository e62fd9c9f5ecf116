package dto

import (
	"strconv"
	"time"

	"github.com/noah-isme/classroom-checkin-api/internal/models"
)

// Placeholder texts rendered by the classroom page.
const (
	NoPhoto             = "none"
	NoCount             = "-"
	EmptyRosterMessage  = "No students registered yet"
	EmptyHistoryMessage = "No check-in history yet"
)

// CourseCard summarises the classroom header.
type CourseCard struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Photo string `json:"photo,omitempty"`
}

// StudentRow is one line of the roster table.
type StudentRow struct {
	Index     int    `json:"index"`
	StudentID string `json:"studentId"`
	DisplayID string `json:"displayId"`
	Name      string `json:"name"`
	Photo     string `json:"photo"`
	Status    int    `json:"status"`
}

// HistoryRow is one line of the check-in history table.
type HistoryRow struct {
	Index       int       `json:"index"`
	SessionID   string    `json:"sessionId"`
	Date        time.Time `json:"date"`
	Count       string    `json:"count"`
	Status      int       `json:"status"`
	StatusLabel string    `json:"statusLabel"`
	Provisional bool      `json:"provisional,omitempty"`
}

// ClassroomViewResponse is the payload of the classroom page.
type ClassroomViewResponse struct {
	ClassroomID  string       `json:"classroomId"`
	Course       *CourseCard  `json:"course"`
	Students     []StudentRow `json:"students"`
	StudentsNote string       `json:"studentsNote,omitempty"`
	History      []HistoryRow `json:"history"`
	HistoryNote  string       `json:"historyNote,omitempty"`
}

// CheckinHistoryResponse is returned after a session was created.
type CheckinHistoryResponse struct {
	ClassroomID string       `json:"classroomId"`
	History     []HistoryRow `json:"history"`
}

// ScoresQuery selects the score sheet representation.
type ScoresQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=json csv pdf"`
}

// QRCodeQuery overrides the rendered QR code edge in pixels.
type QRCodeQuery struct {
	Size int `form:"size" validate:"omitempty,min=32,max=1024"`
}

// NewClassroomViewResponse shapes a classroom view into page tables.
func NewClassroomViewResponse(view *models.ClassroomView) ClassroomViewResponse {
	resp := ClassroomViewResponse{
		ClassroomID: view.ClassroomID,
		Students:    NewStudentRows(view.Students),
		History:     NewHistoryRows(view.Sessions),
	}
	if view.Info != nil {
		resp.Course = &CourseCard{Name: view.Info.Name, Code: view.Info.Code, Photo: view.Info.Photo}
	}
	if len(resp.Students) == 0 {
		resp.StudentsNote = EmptyRosterMessage
	}
	if len(resp.History) == 0 {
		resp.HistoryNote = EmptyHistoryMessage
	}
	return resp
}

// NewStudentRows numbers the roster from 1.
func NewStudentRows(students []models.Student) []StudentRow {
	rows := make([]StudentRow, 0, len(students))
	for i, s := range students {
		photo := s.Photo
		if photo == "" {
			photo = NoPhoto
		}
		rows = append(rows, StudentRow{
			Index:     i + 1,
			StudentID: s.Key(),
			DisplayID: s.DisplayID(),
			Name:      s.Name,
			Photo:     photo,
			Status:    s.Status,
		})
	}
	return rows
}

// NewHistoryRows numbers sessions from 1 in the order given. A missing or zero
// count renders as "-".
func NewHistoryRows(sessions []models.CheckinSession) []HistoryRow {
	rows := make([]HistoryRow, 0, len(sessions))
	for i, s := range sessions {
		count := NoCount
		if s.Count != nil && *s.Count != 0 {
			count = strconv.Itoa(*s.Count)
		}
		rows = append(rows, HistoryRow{
			Index:       i + 1,
			SessionID:   s.ID,
			Date:        s.Date,
			Count:       count,
			Status:      s.Status,
			StatusLabel: s.StatusLabel(),
			Provisional: s.Provisional,
		})
	}
	return rows
}
