package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
	"github.com/jacksonlee411/college-attendance-desk/internal/config"
	"github.com/jacksonlee411/college-attendance-desk/internal/portalapi"
	"github.com/jacksonlee411/college-attendance-desk/internal/session"
	"github.com/jacksonlee411/college-attendance-desk/pkg/authz"
)

var testNow = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mintToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// fakePortal serves one class for 2024-2025 january.
type fakePortal struct {
	mu          sync.Mutex
	workingDays int
	students    []attendance.StudentAttendanceRow
	updates     map[string]int
	failIDs     map[string]bool
	token       string
	setDays     []int
	classCalls  int
}

func newFakePortal(t *testing.T) *fakePortal {
	return &fakePortal{
		workingDays: 20,
		students: []attendance.StudentAttendanceRow{
			{StudentID: "s1", AdmissionNumber: "A001", StudentName: "Anil", DaysPresent: 18, AttendancePercentage: 90},
			{StudentID: "s2", AdmissionNumber: "A002", StudentName: "Bhavana", DaysPresent: 9, AttendancePercentage: 45},
		},
		updates: make(map[string]int),
		failIDs: make(map[string]bool),
		token:   mintToken(t, testNow.Add(2*time.Hour)),
	}
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case r.URL.Path == "/api/auth/login":
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid username or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": p.token, "role": body.Username})
	case r.URL.Path == "/api/attendance/working-days" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]int{"working_days": p.workingDays})
	case r.URL.Path == "/api/attendance/working-days" && r.Method == http.MethodPut:
		var body struct {
			WorkingDays int `json:"working_days"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.workingDays = body.WorkingDays
		p.setDays = append(p.setDays, body.WorkingDays)
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/attendance/class":
		p.classCalls++
		rows := make([]attendance.StudentAttendanceRow, len(p.students))
		copy(rows, p.students)
		_ = json.NewEncoder(w).Encode(attendance.ClassAttendance{WorkingDays: p.workingDays, Students: rows})
	case strings.HasPrefix(r.URL.Path, "/api/attendance/students/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/attendance/students/")
		if p.failIDs[id] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body struct {
			DaysPresent int `json:"days_present"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.updates[id] = body.DaysPresent
		for i := range p.students {
			if p.students[i].StudentID == id {
				p.students[i].DaysPresent = body.DaysPresent
				p.students[i].AttendancePercentage = attendance.Percentage(body.DaysPresent, p.workingDays)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"days_present": body.DaysPresent})
	case r.URL.Path == "/api/attendance/low":
		_ = json.NewEncoder(w).Encode(map[string]any{"students": []attendance.LowAttendanceStudent{
			{StudentID: "s2", AdmissionNumber: "A002", StudentName: "Bhavana", Year: 1, Group: "mpc", DaysPresent: 9, WorkingDays: 20, AttendancePercentage: 45},
			{StudentID: "s7", AdmissionNumber: "B007", StudentName: "Kiran", Year: 2, Group: "bipc", Medium: "telugu", DaysPresent: 4, WorkingDays: 20, AttendancePercentage: 20},
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *fakePortal) updated() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.updates))
	for k, v := range p.updates {
		out[k] = v
	}
	return out
}

func (p *fakePortal) classFetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classCalls
}

type testEnv struct {
	app    *app
	portal *fakePortal
	store  *session.MemoryStore
	clock  *clockwork.FakeClock
	out    *syncBuffer
	errOut *syncBuffer
}

// newTestEnv signs in as role unless role is empty.
func newTestEnv(t *testing.T, role string) *testEnv {
	t.Helper()
	portal := newFakePortal(t)
	srv := httptest.NewServer(portal)
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(testNow)
	var creds session.Credentials
	if role != "" {
		creds = session.Credentials{Token: portal.token, Role: role}
	}
	store := session.NewMemoryStore(creds)
	mon := session.NewMonitor(store, session.WithClock(clock))
	az, err := authz.NewDefaultAuthorizer(authz.ModeEnforce)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{portal: portal, store: store, clock: clock, out: &syncBuffer{}, errOut: &syncBuffer{}}
	env.app = &app{
		cfg:     config.Default(),
		logger:  zap.NewNop(),
		clock:   clock,
		monitor: mon,
		client:  portalapi.NewClient(srv.URL, mon, srv.Client(), nil),
		authz:   az,
		in:      strings.NewReader(""),
		out:     env.out,
		errOut:  env.errOut,
	}
	env.app.watchLogout()
	return env
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	e.app.in = strings.NewReader(stdin)
	cmd := newRootCmd(e.app)
	cmd.SetArgs(args)
	cmd.SetOut(e.out)
	cmd.SetErr(e.errOut)
	return cmd.ExecuteContext(context.Background())
}
