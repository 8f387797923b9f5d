package attendance

import (
	"context"
	"time"
)

type Group string

const (
	GroupMPC  Group = "mpc"
	GroupBiPC Group = "bipc"
	GroupCEC  Group = "cec"
	GroupHEC  Group = "hec"
	GroupMEC  Group = "mec"
)

type Medium string

const (
	MediumAll     Medium = ""
	MediumEnglish Medium = "english"
	MediumTelugu  Medium = "telugu"
)

// Months are the lowercase English month names the backend expects.
var Months = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// MonthOf returns the month name for t.
func MonthOf(t time.Time) string {
	return Months[int(t.Month())-1]
}

type StudentAttendanceRow struct {
	StudentID            string  `json:"student_id"`
	AdmissionNumber      string  `json:"admission_number"`
	StudentName          string  `json:"student_name"`
	DaysPresent          int     `json:"days_present"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// ClassAttendance is one class-month roster. WorkingDays is the copy the
// backend embeds in the payload.
type ClassAttendance struct {
	WorkingDays int                    `json:"working_days"`
	Students    []StudentAttendanceRow `json:"students"`
}

func (c ClassAttendance) clone() ClassAttendance {
	out := ClassAttendance{WorkingDays: c.WorkingDays}
	if c.Students != nil {
		out.Students = make([]StudentAttendanceRow, len(c.Students))
		copy(out.Students, c.Students)
	}
	return out
}

// Item is one proposed days-present value.
type Item struct {
	StudentID string
	Value     int
}

type ItemOutcome struct {
	StudentID string
	Success   bool
	// Value is the server-confirmed days present when Success is true.
	Value int
	Err   error
}

type BulkResult struct {
	JobID     string
	Total     int
	Succeeded int
	Failed    int
	Outcomes  []ItemOutcome
}

type LowAttendanceQuery struct {
	AcademicYear string
	Month        string
	Threshold    float64
	Year         int
	Group        string
	Medium       string
}

type LowAttendanceStudent struct {
	StudentID            string  `json:"student_id"`
	AdmissionNumber      string  `json:"admission_number"`
	StudentName          string  `json:"student_name"`
	Year                 int     `json:"year"`
	Group                string  `json:"group"`
	Medium               string  `json:"medium"`
	DaysPresent          int     `json:"days_present"`
	WorkingDays          int     `json:"working_days"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// Backend is the slice of the portal REST API the orchestrators use.
type Backend interface {
	GetWorkingDays(ctx context.Context, academicYear string, month string) (int, error)
	GetClassAttendance(ctx context.Context, f FilterSet) (ClassAttendance, error)
	UpdateStudentAttendance(ctx context.Context, studentID string, academicYear string, month string, daysPresent int) (int, error)
	SetWorkingDays(ctx context.Context, academicYear string, month string, value int) error
}
