package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

const editHelp = `Commands:
  STUDENT DAYS     stage a value (student id or admission number)
  year N           switch class year (1-3)
  group G          switch group: mpc, bipc, cec, hec or mec
  medium M         switch medium: english, telugu or all
  month NAME       switch month, e.g. february
  academic-year Y  switch academic year, e.g. 2024-2025
  save             send every staged value now
  autosave on|off  toggle saving after a pause in editing
  pending          list staged values
  show             print the sheet
  quit             save what is staged and leave`

func newEditCmd(a *app) *cobra.Command {
	var (
		ff       filterFlags
		autoSave bool
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit a class-month sheet interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			on := a.cfg.Attendance.AutoSave
			if cmd.Flags().Changed("autosave") {
				on = autoSave
			}
			p := newProgressPrinter(a.out)
			v, err := a.newView(attendance.Options{AutoSave: on, OnChange: p.onChange})
			if err != nil {
				return err
			}
			defer v.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go a.monitor.Run(ctx)

			want := ff.filterSet(a.clock.Now())
			if err := v.Load(ctx, want); err != nil {
				return err
			}
			printClass(a.out, v.State())
			fmt.Fprintln(a.out, editHelp)
			return a.runEditor(ctx, v, want)
		},
	}
	ff.bind(cmd, true)
	cmd.Flags().BoolVar(&autoSave, "autosave", true, "save staged values after a pause in editing")
	return cmd
}

// editor is the state of one interactive session. Filter switches are
// debounced by the view; anything that reads the sheet settles them first.
type editor struct {
	a         *app
	v         *attendance.View
	want      attendance.FilterSet
	switching bool
	staged    int
}

func (a *app) runEditor(ctx context.Context, v *attendance.View, want attendance.FilterSet) error {
	e := &editor{a: a, v: v, want: want}
	sc := bufio.NewScanner(a.in)
loop:
	for {
		if a.sessionEnded.Load() {
			return portalerr.ErrUnauthorized
		}
		a.prompt()
		if !sc.Scan() {
			break
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToLower(fields[0])
		switch cmd {
		case "quit", "exit":
			break loop
		case "help":
			fmt.Fprintln(a.out, editHelp)
		case "year", "group", "medium", "month", "academic-year":
			if len(fields) != 2 {
				fmt.Fprintf(a.out, "usage: %s VALUE\n", cmd)
				continue
			}
			e.switchTo(cmd, fields[1])
		case "show":
			e.settle(ctx)
			printClass(a.out, v.State())
		case "pending":
			e.settle(ctx)
			a.printPending(v.State())
		case "save":
			e.settle(ctx)
			a.saveAll(ctx, v)
		case "autosave":
			if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
				fmt.Fprintln(a.out, "usage: autosave on|off")
				continue
			}
			v.SetAutoSave(fields[1] == "on")
			fmt.Fprintf(a.out, "auto-save %s\n", fields[1])
		default:
			if len(fields) != 2 {
				fmt.Fprintln(a.out, "unknown command; type help")
				continue
			}
			e.settle(ctx)
			a.stage(v, fields[0], fields[1])
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	e.settle(ctx)
	if a.sessionEnded.Load() {
		return portalerr.ErrUnauthorized
	}
	if len(v.State().Pending) > 0 {
		res, err := v.SaveAll(ctx)
		if err != nil {
			return err
		}
		return reportBulk(a.out, res)
	}
	return nil
}

// switchTo requests the class-month with field changed to value.
func (e *editor) switchTo(field string, value string) {
	next, err := nextFilter(e.want, field, value)
	if err != nil {
		fmt.Fprintln(e.a.out, errorText(err))
		return
	}
	if !e.switching {
		e.staged = len(e.v.State().Pending)
	}
	e.want = next
	e.switching = true
	e.v.SetFilter(next)
	fmt.Fprintf(e.a.out, "switching to %s\n", next.Key())
}

// settle waits for a requested switch to load and reports how it went.
func (e *editor) settle(ctx context.Context) {
	if !e.switching {
		return
	}
	e.switching = false
	if err := e.v.Settle(ctx); err != nil {
		fmt.Fprintln(e.a.out, errorText(err))
		return
	}
	st := e.v.State()
	if st.Filter.Key() != e.want.Key() {
		if st.Error != "" {
			fmt.Fprintln(e.a.out, st.Error)
		}
		fmt.Fprintf(e.a.out, "still showing %s\n", st.Filter.Key())
		e.want = st.Filter
		return
	}
	if e.staged > 0 && len(st.Pending) == 0 {
		fmt.Fprintf(e.a.out, "dropped %d unsaved values\n", e.staged)
	}
	fmt.Fprintf(e.a.out, "showing %s, %d working days\n", st.Filter.Key(), st.WorkingDays)
}

func nextFilter(cur attendance.FilterSet, field string, value string) (attendance.FilterSet, error) {
	next := cur
	switch field {
	case "year":
		n, err := strconv.Atoi(value)
		if err != nil {
			return cur, portalerr.NewValidation("year", fmt.Sprintf("%q is not a whole number", value))
		}
		next.Year = n
	case "group":
		next.Group = attendance.Group(value)
	case "medium":
		if strings.EqualFold(value, "all") {
			value = ""
		}
		next.Medium = attendance.Medium(value)
	case "month":
		next.Month = value
	case "academic-year":
		next.AcademicYear = value
	}
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return cur, err
	}
	return next, nil
}

func (a *app) prompt() {
	if c := a.monitor.Countdown(); c != "" {
		fmt.Fprintf(a.out, "[session %s] > ", c)
		return
	}
	fmt.Fprint(a.out, "> ")
}

func (a *app) stage(v *attendance.View, ref string, raw string) {
	days, err := parseDays(raw)
	if err != nil {
		fmt.Fprintln(a.out, errorText(err))
		return
	}
	st := v.State()
	row, ok := findStudent(st, ref)
	if !ok {
		fmt.Fprintf(a.out, "no student %s in this class\n", ref)
		return
	}
	if days < 0 || (st.WorkingDays > 0 && days > st.WorkingDays) {
		fmt.Fprintf(a.out, "days present must be between 0 and %d\n", st.WorkingDays)
		return
	}
	if err := v.Edit(row.StudentID, days); err != nil {
		fmt.Fprintln(a.out, errorText(err))
		return
	}
	fmt.Fprintf(a.out, "%s: %d -> %d\n", row.StudentName, row.DaysPresent, days)
}

func (a *app) saveAll(ctx context.Context, v *attendance.View) {
	res, err := v.SaveAll(ctx)
	if err != nil {
		fmt.Fprintln(a.out, errorText(err))
		return
	}
	if res.Total == 0 {
		fmt.Fprintln(a.out, "nothing to save")
		return
	}
	if err := reportBulk(a.out, res); err != nil {
		fmt.Fprintln(a.out, err)
	}
}

func (a *app) printPending(st attendance.State) {
	if len(st.Pending) == 0 {
		fmt.Fprintln(a.out, "nothing staged")
		return
	}
	for _, it := range st.Pending {
		name := it.StudentID
		if row, ok := findStudent(st, it.StudentID); ok {
			name = row.StudentName
		}
		fmt.Fprintf(a.out, "  %s -> %d\n", name, it.Value)
	}
}
