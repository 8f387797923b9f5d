package attendance

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

var newRowFilterEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("student_id", cel.StringType),
		cel.Variable("admission_number", cel.StringType),
		cel.Variable("student_name", cel.StringType),
		cel.Variable("year", cel.IntType),
		cel.Variable("group", cel.StringType),
		cel.Variable("medium", cel.StringType),
		cel.Variable("days_present", cel.IntType),
		cel.Variable("working_days", cel.IntType),
		cel.Variable("percentage", cel.DoubleType),
	)
})

var rowFilterProgramCache sync.Map

// RowFilter is a compiled boolean CEL expression over report rows, e.g.
// `percentage < 50.0 && group == "mpc"`.
type RowFilter struct {
	expr    string
	program cel.Program
}

func CompileRowFilter(expr string) (*RowFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("attendance: filter expression required")
	}
	if cached, ok := rowFilterProgramCache.Load(expr); ok {
		return &RowFilter{expr: expr, program: cached.(cel.Program)}, nil
	}
	env, err := newRowFilterEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("attendance: filter expression must evaluate to bool")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	rowFilterProgramCache.Store(expr, program)
	return &RowFilter{expr: expr, program: program}, nil
}

func (f *RowFilter) String() string {
	return f.expr
}

func (f *RowFilter) Match(s LowAttendanceStudent) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"student_id":       s.StudentID,
		"admission_number": s.AdmissionNumber,
		"student_name":     s.StudentName,
		"year":             int64(s.Year),
		"group":            s.Group,
		"medium":           s.Medium,
		"days_present":     int64(s.DaysPresent),
		"working_days":     int64(s.WorkingDays),
		"percentage":       s.AttendancePercentage,
	})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("attendance: filter expression did not return bool")
	}
	return v, nil
}

// Apply keeps the rows f matches, preserving order.
func (f *RowFilter) Apply(rows []LowAttendanceStudent) ([]LowAttendanceStudent, error) {
	out := make([]LowAttendanceStudent, 0, len(rows))
	for _, r := range rows {
		ok, err := f.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
