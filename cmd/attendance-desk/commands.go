package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
	"github.com/jacksonlee411/college-attendance-desk/pkg/authz"
	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

type filterFlags struct {
	year         int
	group        string
	medium       string
	academicYear string
	month        string
}

func (f *filterFlags) bind(cmd *cobra.Command, classRequired bool) {
	cmd.Flags().StringVar(&f.academicYear, "academic-year", "", "academic year YYYY-YYYY (default: current)")
	cmd.Flags().StringVar(&f.month, "month", "", "month name, e.g. january (default: current)")
	cmd.Flags().IntVar(&f.year, "year", 0, "year of study (1-3)")
	cmd.Flags().StringVar(&f.group, "group", "", "group: mpc, bipc, cec, hec or mec")
	cmd.Flags().StringVar(&f.medium, "medium", "", "medium: english or telugu (default: all)")
	if classRequired {
		_ = cmd.MarkFlagRequired("year")
		_ = cmd.MarkFlagRequired("group")
	}
}

func (f filterFlags) filterSet(now time.Time) attendance.FilterSet {
	fs := attendance.FilterSet{
		Year:         f.year,
		Group:        attendance.Group(f.group),
		Medium:       attendance.Medium(f.medium),
		AcademicYear: f.academicYear,
		Month:        f.month,
	}
	if strings.TrimSpace(fs.Month) == "" {
		fs.Month = attendance.MonthOf(now)
	}
	if strings.TrimSpace(fs.AcademicYear) == "" {
		fs.AcademicYear = academicYearOf(now)
	}
	return fs.Normalize()
}

// academicYearOf returns the June-to-May academic year containing t.
func academicYearOf(t time.Time) string {
	y := t.Year()
	if t.Month() < time.June {
		y--
	}
	return fmt.Sprintf("%d-%d", y, y+1)
}

func newLoginCmd(a *app) *cobra.Command {
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Sign in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword(passwordStdin)
			if err != nil {
				return err
			}
			creds, err := a.client.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Logged in as %s\n", creds.Role)
			if st := a.monitor.Tick(); st.Countdown != "" {
				fmt.Fprintf(a.out, "Session expires in %s\n", st.Countdown)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *app) readPassword(fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(a.errOut, "Password: ")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a.monitor.Logout()
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in role and time left on the session",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st := a.monitor.Tick()
			if st.Expired {
				return fmt.Errorf("%w: %w", errSessionEnded, portalerr.ErrUnauthorized)
			}
			if !st.HasToken {
				return errNotLoggedIn
			}
			fmt.Fprintf(a.out, "Role: %s\n", st.Role)
			if st.Countdown != "" {
				fmt.Fprintf(a.out, "Session expires in %s\n", st.Countdown)
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a class-month attendance sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			v, err := a.newView(attendance.Options{})
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Load(cmd.Context(), ff.filterSet(a.clock.Now())); err != nil {
				return err
			}
			printClass(a.out, v.State())
			return nil
		},
	}
	ff.bind(cmd, true)
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "set STUDENT DAYS",
		Short: "Set one student's days present",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := parseDays(args[1])
			if err != nil {
				return err
			}
			if err := a.requireSession(); err != nil {
				return err
			}
			v, err := a.newView(attendance.Options{})
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Load(cmd.Context(), ff.filterSet(a.clock.Now())); err != nil {
				return err
			}
			row, ok := findStudent(v.State(), args[0])
			if !ok {
				return fmt.Errorf("%w: %s", attendance.ErrUnknownStudent, args[0])
			}
			if _, err := v.UpdateStudent(cmd.Context(), row.StudentID, days); err != nil {
				return err
			}
			row, _ = findStudent(v.State(), row.StudentID)
			fmt.Fprintf(a.out, "Updated %s: %d days (%.1f%%)\n", row.StudentName, row.DaysPresent, row.AttendancePercentage)
			return nil
		},
	}
	ff.bind(cmd, true)
	return cmd
}

func newBulkCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "bulk FILE",
		Short: "Apply many days-present values from a file (- for stdin)",
		Long: "Each line holds a student id or admission number and a value, separated by '=', ',' or whitespace.\n" +
			"Blank lines and lines starting with # are ignored.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.in
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			entries, err := parseBulk(r)
			if err != nil {
				return err
			}
			if err := a.requireSession(); err != nil {
				return err
			}

			p := newProgressPrinter(a.out)
			v, err := a.newView(attendance.Options{OnChange: p.onChange})
			if err != nil {
				return err
			}
			defer v.Close()
			if err := v.Load(cmd.Context(), ff.filterSet(a.clock.Now())); err != nil {
				return err
			}
			items, err := resolveItems(v.State(), entries)
			if err != nil {
				return err
			}
			res, err := v.BulkUpdate(cmd.Context(), items)
			if err != nil {
				return err
			}
			return reportBulk(a.out, res)
		},
	}
	ff.bind(cmd, true)
	return cmd
}

func newWorkingDaysCmd(a *app) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "working-days DAYS",
		Short: "Set the number of working days for a month (principal only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := parseDays(args[0])
			if err != nil {
				return err
			}
			if err := a.requireSession(); err != nil {
				return err
			}
			v, err := a.newView(attendance.Options{})
			if err != nil {
				return err
			}
			defer v.Close()

			fs := ff.filterSet(a.clock.Now())
			if err := v.Load(cmd.Context(), fs); err != nil && !errors.Is(err, attendance.ErrIncompleteFilter) {
				return err
			}
			if err := v.SetWorkingDays(cmd.Context(), days); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Working days for %s %s set to %d\n", fs.Month, fs.AcademicYear, days)
			if st := v.State(); st.Loaded {
				printClass(a.out, st)
			}
			return nil
		},
	}
	ff.bind(cmd, false)
	return cmd
}

func newLowCmd(a *app) *cobra.Command {
	var (
		ff    filterFlags
		where string
	)
	cmd := &cobra.Command{
		Use:   "low THRESHOLD",
		Short: "List students whose attendance percentage is below THRESHOLD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return portalerr.NewValidation("threshold", "threshold must be a number")
			}
			var rf *attendance.RowFilter
			if strings.TrimSpace(where) != "" {
				if rf, err = attendance.CompileRowFilter(where); err != nil {
					return portalerr.NewValidation("where", err.Error())
				}
			}
			if err := a.requireSession(); err != nil {
				return err
			}
			ok, err := a.authz.Allowed(a.monitor.Role(), authz.ObjectReports, authz.ActionRead)
			if err != nil {
				return err
			}
			if !ok {
				return portalerr.ErrForbidden
			}

			fs := ff.filterSet(a.clock.Now())
			rows, err := a.client.GetStudentsWithLowAttendance(cmd.Context(), attendance.LowAttendanceQuery{
				AcademicYear: fs.AcademicYear,
				Month:        fs.Month,
				Threshold:    threshold,
				Year:         fs.Year,
				Group:        string(fs.Group),
				Medium:       string(fs.Medium),
			})
			if err != nil {
				return err
			}
			if rf != nil {
				if rows, err = rf.Apply(rows); err != nil {
					return err
				}
			}
			printLow(a.out, fs, threshold, rows)
			return nil
		},
	}
	ff.bind(cmd, false)
	cmd.Flags().StringVar(&where, "where", "", `extra CEL filter over rows, e.g. 'group == "mpc" && days_present < 5'`)
	return cmd
}

func parseDays(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, portalerr.NewValidation("days_present", fmt.Sprintf("%q is not a whole number", s))
	}
	return n, nil
}

func findStudent(st attendance.State, ref string) (attendance.StudentAttendanceRow, bool) {
	for _, s := range st.Students {
		if s.StudentID == ref || strings.EqualFold(s.AdmissionNumber, ref) {
			return s, true
		}
	}
	return attendance.StudentAttendanceRow{}, false
}

type bulkEntry struct {
	line  int
	ref   string
	value int
}

func parseBulk(r io.Reader) ([]bulkEntry, error) {
	var out []bulkEntry
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == '=' || r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected STUDENT VALUE, got %q", n, line)
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %q is not a whole number", n, fields[1])
		}
		out = append(out, bulkEntry{line: n, ref: fields[0], value: v})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveItems(st attendance.State, entries []bulkEntry) ([]attendance.Item, error) {
	items := make([]attendance.Item, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		row, ok := findStudent(st, e.ref)
		if !ok {
			return nil, fmt.Errorf("line %d: %w: %s", e.line, attendance.ErrUnknownStudent, e.ref)
		}
		if prev, dup := seen[row.StudentID]; dup {
			return nil, fmt.Errorf("line %d: student %s already listed on line %d", e.line, e.ref, prev)
		}
		seen[row.StudentID] = e.line
		items = append(items, attendance.Item{StudentID: row.StudentID, Value: e.value})
	}
	return items, nil
}

func reportBulk(w io.Writer, res attendance.BulkResult) error {
	if res.Failed == 0 {
		return nil
	}
	for _, o := range res.Outcomes {
		if !o.Success {
			fmt.Fprintf(w, "  %s: %s\n", o.StudentID, portalerr.UserMessage(o.Err))
		}
	}
	return fmt.Errorf("%d of %d updates failed", res.Failed, res.Total)
}

// progressPrinter echoes each new progress line once.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) onChange(st attendance.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st.Progress == p.last {
		return
	}
	p.last = st.Progress
	if st.Progress != "" {
		fmt.Fprintln(p.w, st.Progress)
	}
}
