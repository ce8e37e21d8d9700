package command_test

import (
	"testing"

	"github.com/xraph/billing/command"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CekUnit", "cekunit"},
		{" /cekunit ", "cekunit"},
		{"!Topup", "topup"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := command.NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	c := &command.Command{Key: "/CekUnit"}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Key != "cekunit" {
		t.Errorf("Key = %q, want cekunit", c.Key)
	}
	if c.Scope != command.ScopeBoth {
		t.Errorf("Scope = %q, want default BOTH", c.Scope)
	}

	for _, bad := range []*command.Command{
		{Key: ""},
		{Key: "cek unit"},
		{Key: "cek", Scope: "CHANNEL"},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("Validate(%+v) expected error", bad)
		}
	}
}
