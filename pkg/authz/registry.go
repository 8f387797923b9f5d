package authz

const (
	RolePrincipal = "principal"
	RoleAdmin     = "admin"
	RoleTeacher   = "teacher"
	RoleStaff     = "staff"
	RoleAnonymous = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
)

const DomainPortal = "portal"

const (
	ObjectWorkingDays       = "attendance.working-days"
	ObjectStudentAttendance = "attendance.students"
	ObjectReports           = "attendance.reports"
)
