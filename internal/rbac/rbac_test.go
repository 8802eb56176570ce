package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "editor write", role: RoleEditor, action: ActionWrite, allow: true},
		{name: "editor manage", role: RoleEditor, action: ActionManage, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManage, allow: true},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: false},
		{name: "owner admin", role: RoleOwner, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
		{name: "unknown action", role: RoleOwner, action: Action("approve"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestOutranks(t *testing.T) {
	if !Outranks(RoleOwner, RoleOwner) {
		t.Fatal("owner should be able to assign owner")
	}
	if Outranks(RoleAdmin, RoleAdmin) {
		t.Fatal("admin must not assign admin")
	}
	if !Outranks(RoleAdmin, RoleEditor) {
		t.Fatal("admin should outrank editor")
	}
	if Outranks(RoleEditor, RoleAdmin) {
		t.Fatal("editor must not outrank admin")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("owner"); got != RoleOwner {
		t.Fatalf("Normalize(owner) = %q", got)
	}
	if got := Normalize("commenter"); got != RoleViewer {
		t.Fatalf("Normalize(commenter) = %q, want viewer", got)
	}
}
