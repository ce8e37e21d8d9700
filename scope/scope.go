// Package scope defines the parties a policy or wallet can belong to.
//
// A Target is one of a chat group, a leasing company or an individual phone
// number. Targets are only built through the constructors in this package,
// so a target always carries exactly one identity matching its Type.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the kind of party a Target refers to.
type Type string

const (
	TypeGroup    Type = "GROUP"
	TypeLeasing  Type = "LEASING"
	TypePersonal Type = "PERSONAL"
)

// Valid reports whether t is a known scope type.
func (t Type) Valid() bool {
	switch t {
	case TypeGroup, TypeLeasing, TypePersonal:
		return true
	}
	return false
}

// ParseType parses a scope type name, case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("scope: unknown scope type %q", s)
	}
	return t, nil
}

// Errors returned by Target validation.
var (
	ErrEmptyTarget  = errors.New("scope: target identity is empty")
	ErrInvalidPhone = errors.New("scope: invalid phone number")
)

// Target identifies the owner of a policy or wallet.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receiver for UnmarshalText.
type Target struct {
	typ Type
	key string
}

// Group returns the target for a chat group.
func Group(groupID string) Target {
	return Target{typ: TypeGroup, key: strings.TrimSpace(groupID)}
}

// Leasing returns the target for a leasing company.
func Leasing(leasingID string) Target {
	return Target{typ: TypeLeasing, key: strings.TrimSpace(leasingID)}
}

// Personal returns the target for an individual phone number. The number is
// normalized with NormalizePhone; an unparseable number yields a target that
// fails Validate.
func Personal(phone string) Target {
	return Target{typ: TypePersonal, key: NormalizePhone(phone)}
}

// NewTarget builds a validated target from a scope type and identity.
func NewTarget(t Type, key string) (Target, error) {
	var target Target
	switch t {
	case TypeGroup:
		target = Group(key)
	case TypeLeasing:
		target = Leasing(key)
	case TypePersonal:
		target = Personal(key)
	default:
		return Target{}, fmt.Errorf("scope: unknown scope type %q", t)
	}
	if err := target.Validate(); err != nil {
		return Target{}, err
	}
	return target, nil
}

// Parse parses the "TYPE:key" form produced by String.
func Parse(s string) (Target, error) {
	typ, key, ok := strings.Cut(s, ":")
	if !ok {
		return Target{}, fmt.Errorf("scope: parse %q: missing type separator", s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return Target{}, err
	}
	return NewTarget(t, key)
}

// Type returns the scope type of the target.
func (t Target) Type() Type { return t.typ }

// Key returns the identity of the target within its scope type.
func (t Target) Key() string { return t.key }

// IsZero reports whether t is the zero Target.
func (t Target) IsZero() bool { return t.typ == "" && t.key == "" }

// Validate checks that the target carries a usable identity.
func (t Target) Validate() error {
	if !t.typ.Valid() {
		return fmt.Errorf("scope: unknown scope type %q", t.typ)
	}
	if t.key == "" {
		if t.typ == TypePersonal {
			return ErrInvalidPhone
		}
		return ErrEmptyTarget
	}
	return nil
}

// String returns the "TYPE:key" form of the target.
func (t Target) String() string {
	if t.IsZero() {
		return ""
	}
	return string(t.typ) + ":" + t.key
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*t = Target{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NormalizePhone reduces a phone number to its E.164 digits without the
// leading plus. Separators are dropped and a "00" international prefix is
// stripped. It returns "" when the result is not 8 to 15 digits long.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimSuffix(phone, "@s.whatsapp.net")
	phone = strings.TrimSuffix(phone, "@c.us")

	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return ""
		}
	}

	digits := strings.TrimPrefix(b.String(), "00")
	if len(digits) < 8 || len(digits) > 15 || digits[0] == '0' {
		return ""
	}
	return digits
}

// Actor is the identity of whoever issued a command, as resolved by the
// caller from the incoming chat message. LeasingID and Phone are optional.
type Actor struct {
	GroupID   string `json:"group_id"`
	LeasingID string `json:"leasing_id,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// GroupTarget returns the actor's group target.
func (a Actor) GroupTarget() Target { return Group(a.GroupID) }

// LeasingTarget returns the target of the group's leasing company, if any.
func (a Actor) LeasingTarget() (Target, bool) {
	t := Leasing(a.LeasingID)
	return t, t.Key() != ""
}

// PersonalTarget returns the actor's personal target, if a usable phone is known.
func (a Actor) PersonalTarget() (Target, bool) {
	t := Personal(a.Phone)
	return t, t.Key() != ""
}

// Validate checks that the actor carries a group identity.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.GroupID) == "" {
		return fmt.Errorf("scope: actor has no group: %w", ErrEmptyTarget)
	}
	return nil
}
