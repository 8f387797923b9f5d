package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jacksonlee411/college-attendance-desk/internal/attendance"
)

func printClass(w io.Writer, st attendance.State) {
	fmt.Fprintf(w, "Class %s, %d working days\n", st.Filter.Key(), st.WorkingDays)
	if st.Mismatch {
		fmt.Fprintln(w, "warning: the class sheet disagrees with the month's working days; limits use the month's value")
	}
	if len(st.Students) == 0 {
		fmt.Fprintln(w, "No students found.")
		return
	}
	pending := make(map[string]int, len(st.Pending))
	for _, it := range st.Pending {
		pending[it.StudentID] = it.Value
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADMISSION\tNAME\tPRESENT\tPERCENT\tPENDING")
	for _, s := range st.Students {
		p := ""
		if v, ok := pending[s.StudentID]; ok {
			p = fmt.Sprintf("-> %d", v)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\t%s\n", s.AdmissionNumber, s.StudentName, s.DaysPresent, s.AttendancePercentage, p)
	}
	_ = tw.Flush()
}

func printLow(w io.Writer, f attendance.FilterSet, threshold float64, rows []attendance.LowAttendanceStudent) {
	fmt.Fprintf(w, "Students below %.1f%% in %s %s\n", threshold, f.Month, f.AcademicYear)
	if len(rows) == 0 {
		fmt.Fprintln(w, "None.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADMISSION\tNAME\tCLASS\tPRESENT\tPERCENT")
	for _, r := range rows {
		medium := r.Medium
		if medium == "" {
			medium = "all"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d-%s-%s\t%d/%d\t%.1f%%\n",
			r.AdmissionNumber, r.StudentName, r.Year, r.Group, medium, r.DaysPresent, r.WorkingDays, r.AttendancePercentage)
	}
	_ = tw.Flush()
}
