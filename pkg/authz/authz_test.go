package authz

import (
	"os"
	"path/filepath"
	"testing"
)

const testModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

func TestParseMode(t *testing.T) {
	t.Setenv("AUTHZ_UNSAFE_ALLOW_DISABLED", "")
	tests := []struct {
		raw     string
		want    Mode
		wantErr bool
	}{
		{raw: "", want: ModeEnforce},
		{raw: " Shadow ", want: ModeShadow},
		{raw: "enforce", want: ModeEnforce},
		{raw: "disabled", wantErr: true},
		{raw: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseMode(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("mode=%q want=%q", got, tt.want)
			}
		})
	}
}

func TestParseMode_DisabledWithUnsafe(t *testing.T) {
	t.Setenv("AUTHZ_UNSAFE_ALLOW_DISABLED", "1")
	m, err := ParseMode("disabled")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if m != ModeDisabled {
		t.Fatalf("mode=%q", m)
	}
}

func TestNewDefaultAuthorizer_RoleMatrix(t *testing.T) {
	a, err := NewDefaultAuthorizer(ModeEnforce)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	tests := []struct {
		role   string
		object string
		action string
		want   bool
	}{
		{role: RolePrincipal, object: ObjectWorkingDays, action: ActionWrite, want: true},
		{role: RoleAdmin, object: ObjectWorkingDays, action: ActionWrite, want: false},
		{role: RoleTeacher, object: ObjectWorkingDays, action: ActionWrite, want: false},
		{role: RoleTeacher, object: ObjectStudentAttendance, action: ActionWrite, want: true},
		{role: RoleStaff, object: ObjectStudentAttendance, action: ActionWrite, want: false},
		{role: RoleStaff, object: ObjectReports, action: ActionRead, want: true},
		{role: "", object: ObjectReports, action: ActionRead, want: false},
		{role: "Principal", object: ObjectWorkingDays, action: ActionWrite, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.object+"/"+tt.action, func(t *testing.T) {
			got, err := a.Allowed(tt.role, tt.object, tt.action)
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if got != tt.want {
				t.Fatalf("allowed=%v want=%v", got, tt.want)
			}
		})
	}
}

func TestAllowed_ShadowNeverDenies(t *testing.T) {
	a, err := NewDefaultAuthorizer(ModeShadow)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	ok, err := a.Allowed(RoleStaff, ObjectWorkingDays, ActionWrite)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	allowed, enforced, err := a.Authorize(SubjectFromRoleSlug(RoleStaff), DomainPortal, ObjectWorkingDays, ActionWrite)
	if err != nil || allowed || enforced {
		t.Fatalf("allowed=%v enforced=%v err=%v", allowed, enforced, err)
	}
}

func TestNewAuthorizer_FromFiles(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.conf")
	policy := filepath.Join(dir, "policy.csv")

	if err := os.WriteFile(model, []byte(testModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(policy, []byte("p, role:teacher, portal, attendance.working-days, write\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := NewAuthorizer(model, policy, ModeEnforce)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	ok, err := a.Allowed(RoleTeacher, ObjectWorkingDays, ActionWrite)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	ok, err = a.Allowed(RolePrincipal, ObjectWorkingDays, ActionWrite)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}

	aDisabled, err := NewAuthorizer(model, policy, ModeDisabled)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	allowed, enforced, err := aDisabled.Authorize("role:staff", DomainPortal, ObjectWorkingDays, ActionWrite)
	if err != nil || enforced || !allowed {
		t.Fatalf("allowed=%v enforced=%v err=%v", allowed, enforced, err)
	}
}

func TestNewAuthorizer_Error(t *testing.T) {
	dir := t.TempDir()
	invalidModel := filepath.Join(dir, "invalid.conf")
	if err := os.WriteFile(invalidModel, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(invalidModel, "nope-policy.csv", ModeEnforce); err == nil {
		t.Fatal("expected error")
	}

	model := filepath.Join(dir, "model.conf")
	if err := os.WriteFile(model, []byte(testModel), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewAuthorizer(model, filepath.Join(dir, "missing.csv"), ModeEnforce); err == nil {
		t.Fatal("expected error")
	}
}

func TestParsePolicyLines(t *testing.T) {
	rules, err := parsePolicyLines("p, role:a, portal, o, read\n\ng, x, y\n")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(rules) != 1 || rules[0][0] != "role:a" || rules[0][3] != "read" {
		t.Fatalf("rules=%v", rules)
	}
	if _, err := parsePolicyLines("p, role:a, portal\n"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubjectFromRoleSlug(t *testing.T) {
	if got := SubjectFromRoleSlug(""); got != "role:anonymous" {
		t.Fatalf("got=%q", got)
	}
	if got := SubjectFromRoleSlug(" Principal "); got != "role:principal" {
		t.Fatalf("got=%q", got)
	}
}

func TestAuthorize_UnknownMode(t *testing.T) {
	a := &Authorizer{mode: Mode("nope")}
	if _, _, err := a.Authorize("role:x", "d", "o", "a"); err == nil {
		t.Fatal("expected error")
	}
}
