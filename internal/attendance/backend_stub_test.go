package attendance

import (
	"context"
	"sync"
	"sync/atomic"
)

type stubBackend struct {
	getWorkingDays    func(ctx context.Context, academicYear string, month string) (int, error)
	getClass          func(ctx context.Context, f FilterSet) (ClassAttendance, error)
	updateStudent     func(ctx context.Context, studentID string, academicYear string, month string, daysPresent int) (int, error)
	setWorkingDays    func(ctx context.Context, academicYear string, month string, value int) error
	workingDaysCalls  atomic.Int32
	classCalls        atomic.Int32
	updateCalls       atomic.Int32
	setWorkingDaysHit atomic.Int32

	mu      sync.Mutex
	updated []Item
}

func (s *stubBackend) GetWorkingDays(ctx context.Context, academicYear string, month string) (int, error) {
	s.workingDaysCalls.Add(1)
	if s.getWorkingDays == nil {
		return 20, nil
	}
	return s.getWorkingDays(ctx, academicYear, month)
}

func (s *stubBackend) GetClassAttendance(ctx context.Context, f FilterSet) (ClassAttendance, error) {
	s.classCalls.Add(1)
	if s.getClass == nil {
		return sampleClass(20), nil
	}
	return s.getClass(ctx, f)
}

func (s *stubBackend) UpdateStudentAttendance(ctx context.Context, studentID string, academicYear string, month string, daysPresent int) (int, error) {
	s.updateCalls.Add(1)
	s.mu.Lock()
	s.updated = append(s.updated, Item{StudentID: studentID, Value: daysPresent})
	s.mu.Unlock()
	if s.updateStudent == nil {
		return daysPresent, nil
	}
	return s.updateStudent(ctx, studentID, academicYear, month, daysPresent)
}

func (s *stubBackend) SetWorkingDays(ctx context.Context, academicYear string, month string, value int) error {
	s.setWorkingDaysHit.Add(1)
	if s.setWorkingDays == nil {
		return nil
	}
	return s.setWorkingDays(ctx, academicYear, month, value)
}

func (s *stubBackend) updatedItems() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.updated...)
}

func sampleClass(workingDays int) ClassAttendance {
	return ClassAttendance{
		WorkingDays: workingDays,
		Students: []StudentAttendanceRow{
			{StudentID: "s1", AdmissionNumber: "A001", StudentName: "Anil", DaysPresent: 18, AttendancePercentage: Percentage(18, workingDays)},
			{StudentID: "s2", AdmissionNumber: "A002", StudentName: "Bhavana", DaysPresent: 9, AttendancePercentage: Percentage(9, workingDays)},
			{StudentID: "s3", AdmissionNumber: "A003", StudentName: "Chaitanya", DaysPresent: 20, AttendancePercentage: Percentage(20, workingDays)},
		},
	}
}

func sampleFilter() FilterSet {
	return FilterSet{Year: 1, Group: GroupMPC, AcademicYear: "2024-2025", Month: "january"}
}
