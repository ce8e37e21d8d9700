package scope_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/billing/scope"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+62 812-3456-7890", "6281234567890"},
		{"0062 812 3456 7890", "6281234567890"},
		{"6281234567890@s.whatsapp.net", "6281234567890"},
		{"(62) 812.3456.7890", "6281234567890"},
		{"", ""},
		{"1234567", ""},
		{"1234567890123456", ""},
		{"62812abc", ""},
		{"081234567890", ""},
		{"62+81234567", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := scope.NormalizePhone(tt.in); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTargetConstructors(t *testing.T) {
	tests := []struct {
		name    string
		target  scope.Target
		typ     scope.Type
		key     string
		wantErr error
	}{
		{"group", scope.Group(" 120363@g.us "), scope.TypeGroup, "120363@g.us", nil},
		{"leasing", scope.Leasing("lease-7"), scope.TypeLeasing, "lease-7", nil},
		{"personal", scope.Personal("+6281234567890"), scope.TypePersonal, "6281234567890", nil},
		{"empty group", scope.Group(""), scope.TypeGroup, "", scope.ErrEmptyTarget},
		{"bad phone", scope.Personal("abc"), scope.TypePersonal, "", scope.ErrInvalidPhone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.target.Type() != tt.typ {
				t.Errorf("Type() = %q, want %q", tt.target.Type(), tt.typ)
			}
			if tt.target.Key() != tt.key {
				t.Errorf("Key() = %q, want %q", tt.target.Key(), tt.key)
			}
			err := tt.target.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse(t *testing.T) {
	target, err := scope.Parse("leasing:acme")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if target != scope.Leasing("acme") {
		t.Errorf("Parse = %v, want LEASING:acme", target)
	}

	for _, bad := range []string{"acme", "TEAM:acme", "GROUP:", "PERSONAL:12"} {
		if _, err := scope.Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
}

func TestTargetJSON(t *testing.T) {
	in := struct {
		Target scope.Target `json:"target"`
	}{Target: scope.Personal("+6281234567890")}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"target":"PERSONAL:6281234567890"}` {
		t.Errorf("Marshal = %s", data)
	}

	var out struct {
		Target scope.Target `json:"target"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Target != in.Target {
		t.Errorf("round trip = %v, want %v", out.Target, in.Target)
	}
}

func TestActorTargets(t *testing.T) {
	a := scope.Actor{GroupID: "g1"}
	if _, ok := a.LeasingTarget(); ok {
		t.Error("actor without leasing id reported a leasing target")
	}
	if _, ok := a.PersonalTarget(); ok {
		t.Error("actor without phone reported a personal target")
	}

	a = scope.Actor{GroupID: "g1", LeasingID: "l1", Phone: "+6281234567890"}
	if lt, ok := a.LeasingTarget(); !ok || lt != scope.Leasing("l1") {
		t.Errorf("LeasingTarget = %v, %v", lt, ok)
	}
	if pt, ok := a.PersonalTarget(); !ok || pt.Key() != "6281234567890" {
		t.Errorf("PersonalTarget = %v, %v", pt, ok)
	}

	if err := (scope.Actor{}).Validate(); err == nil {
		t.Error("expected error for actor without group")
	}
}
