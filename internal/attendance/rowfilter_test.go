package attendance

import "testing"

func TestCompileRowFilter(t *testing.T) {
	rows := []LowAttendanceStudent{
		{StudentID: "1", StudentName: "Anil", Year: 1, Group: "mpc", Medium: "english", DaysPresent: 5, WorkingDays: 20, AttendancePercentage: 25},
		{StudentID: "2", StudentName: "Bhavana", Year: 2, Group: "bipc", Medium: "telugu", DaysPresent: 12, WorkingDays: 20, AttendancePercentage: 60},
		{StudentID: "3", StudentName: "Chaitanya", Year: 1, Group: "mpc", Medium: "telugu", DaysPresent: 14, WorkingDays: 20, AttendancePercentage: 70},
	}

	f, err := CompileRowFilter(`group == "mpc" && percentage < 50.0`)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, err := f.Apply(rows)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(got) != 1 || got[0].StudentID != "1" {
		t.Fatalf("got=%v", got)
	}

	f, err = CompileRowFilter(`year == 1 && days_present > 10`)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	got, _ = f.Apply(rows)
	if len(got) != 1 || got[0].StudentID != "3" {
		t.Fatalf("got=%v", got)
	}
	if f.String() != `year == 1 && days_present > 10` {
		t.Fatalf("string=%q", f.String())
	}
}

func TestCompileRowFilter_Rejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"percentage",
		"unknown_field > 1",
		"group ==",
	} {
		if _, err := CompileRowFilter(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}
