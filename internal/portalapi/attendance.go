package portalapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
	"github.com/jacksonlee411/college-attendance-desk/internal/session"
	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

var _ attendance.Backend = (*Client)(nil)

const maxWorkingDays = 31

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Login exchanges username and password for a token and stores it in the
// session.
func (c *Client) Login(ctx context.Context, username string, password string) (session.Credentials, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return session.Credentials{}, portalerr.NewValidation("username", "username is required")
	}
	if password == "" {
		return session.Credentials{}, portalerr.NewValidation("password", "password is required")
	}

	var lr loginResponse
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/api/auth/login",
		body:      loginRequest{Username: username, Password: password},
		anonymous: true,
	}, &lr)
	if err != nil {
		return session.Credentials{}, err
	}
	creds := session.Credentials{Token: strings.TrimSpace(lr.Token), Role: strings.TrimSpace(lr.Role)}
	if creds.Empty() {
		return session.Credentials{}, errors.New("portalapi: login returned empty token")
	}
	if c.Session != nil {
		if err := c.Session.Login(creds); err != nil {
			return session.Credentials{}, err
		}
	}
	return creds, nil
}

type workingDaysBody struct {
	AcademicYear string `json:"academic_year,omitempty"`
	Month        string `json:"month,omitempty"`
	WorkingDays  int    `json:"working_days"`
}

func monthQuery(academicYear string, month string) url.Values {
	q := url.Values{}
	q.Set("academic_year", academicYear)
	q.Set("month", month)
	return q
}

func (c *Client) GetWorkingDays(ctx context.Context, academicYear string, month string) (int, error) {
	var out workingDaysBody
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/attendance/working-days",
		query:  monthQuery(academicYear, month),
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.WorkingDays, nil
}

func (c *Client) SetWorkingDays(ctx context.Context, academicYear string, month string, value int) error {
	if value < 0 || value > maxWorkingDays {
		return portalerr.NewValidation("working_days", fmt.Sprintf("must be between 0 and %d", maxWorkingDays))
	}
	return c.do(ctx, request{
		method: http.MethodPut,
		path:   "/api/attendance/working-days",
		body:   workingDaysBody{AcademicYear: academicYear, Month: month, WorkingDays: value},
	}, nil)
}

func (c *Client) GetClassAttendance(ctx context.Context, f attendance.FilterSet) (attendance.ClassAttendance, error) {
	q := monthQuery(f.AcademicYear, f.Month)
	q.Set("year", strconv.Itoa(f.Year))
	q.Set("group", string(f.Group))
	if f.Medium != attendance.MediumAll {
		q.Set("medium", string(f.Medium))
	}
	var out attendance.ClassAttendance
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/attendance/class",
		query:  q,
	}, &out)
	if err != nil {
		return attendance.ClassAttendance{}, err
	}
	return out, nil
}

type updateStudentRequest struct {
	AcademicYear string `json:"academic_year"`
	Month        string `json:"month"`
	DaysPresent  int    `json:"days_present"`
}

type updateStudentResponse struct {
	DaysPresent *int `json:"days_present"`
}

// UpdateStudentAttendance commits one value and returns the days present the
// backend confirmed. A reply without a value confirms the one sent.
func (c *Client) UpdateStudentAttendance(ctx context.Context, studentID string, academicYear string, month string, daysPresent int) (int, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return 0, portalerr.NewValidation("student_id", "student id is required")
	}
	if daysPresent < 0 {
		return 0, portalerr.NewValidation("days_present", "days present cannot be negative")
	}
	var out updateStudentResponse
	err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/api/attendance/students/" + url.PathEscape(studentID),
		body:   updateStudentRequest{AcademicYear: academicYear, Month: month, DaysPresent: daysPresent},
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.DaysPresent == nil {
		return daysPresent, nil
	}
	return *out.DaysPresent, nil
}

type lowAttendanceResponse struct {
	Students []attendance.LowAttendanceStudent `json:"students"`
}

func (c *Client) GetStudentsWithLowAttendance(ctx context.Context, query attendance.LowAttendanceQuery) ([]attendance.LowAttendanceStudent, error) {
	if query.Threshold < 0 || query.Threshold > 100 {
		return nil, portalerr.NewValidation("threshold", "threshold must be between 0 and 100")
	}
	q := monthQuery(query.AcademicYear, query.Month)
	q.Set("threshold", strconv.FormatFloat(query.Threshold, 'f', -1, 64))
	if query.Year != 0 {
		q.Set("year", strconv.Itoa(query.Year))
	}
	if query.Group != "" {
		q.Set("group", query.Group)
	}
	if query.Medium != "" {
		q.Set("medium", query.Medium)
	}
	var out lowAttendanceResponse
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/attendance/low",
		query:  q,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Students, nil
}
