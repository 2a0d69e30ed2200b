package domain

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type Role string

const (
	RolePilgrim     Role = "pilgrim"
	RoleOffice      Role = "office"
	RoleBusOperator Role = "bus_operator"
	RoleAdmin       Role = "admin"
)

var roleAliases = map[string]Role{
	"pilgrim":      RolePilgrim,
	"user":         RolePilgrim,
	"customer":     RolePilgrim,
	"office":       RoleOffice,
	"umrah_office": RoleOffice,
	"umrah-office": RoleOffice,
	"umrahoffice":  RoleOffice,
	"bus_operator": RoleBusOperator,
	"bus-operator": RoleBusOperator,
	"busoperator":  RoleBusOperator,
	"operator":     RoleBusOperator,
	"admin":        RoleAdmin,
	"super_admin":  RoleAdmin,
	"superadmin":   RoleAdmin,
}

// ParseRole maps an API role name onto a Role.
func ParseRole(name string) (Role, bool) {
	role, ok := roleAliases[strings.ToLower(strings.TrimSpace(name))]
	return role, ok
}

// DashboardPath is the locale-less landing route for a role.
func (r Role) DashboardPath() string {
	switch r {
	case RoleOffice:
		return "/UmrahOffices"
	case RoleBusOperator:
		return "/BusOperator"
	case RoleAdmin:
		return "/admin"
	default:
		return "/PilgrimUser"
	}
}

type rawProfile struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Role        json.RawMessage `json:"role"`
	Roles       json.RawMessage `json:"roles"`
	UmrahOffice json.RawMessage `json:"umrah_office"`
	Office      json.RawMessage `json:"office"`
}

// ParseProfile decodes a user object as returned by the API and derives its
// role. Role derivation looks at, in order: roles as strings, roles as
// objects with a name, a scalar role, an office association. Anything else
// is a pilgrim.
func ParseProfile(raw []byte) (Profile, error) {
	var p rawProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode user profile: %w", err)
	}
	return Profile{
		ID:    scalarString(p.ID),
		Name:  p.Name,
		Email: p.Email,
		Role:  deriveRole(p),
		Raw:   append(json.RawMessage(nil), raw...),
	}, nil
}

func deriveRole(p rawProfile) Role {
	if present(p.Roles) {
		var names []string
		if err := json.Unmarshal(p.Roles, &names); err == nil {
			for _, name := range names {
				if role, ok := ParseRole(name); ok {
					return role
				}
			}
		}
		var named []struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(p.Roles, &named); err == nil {
			for _, item := range named {
				if role, ok := ParseRole(item.Name); ok {
					return role
				}
			}
		}
	}
	if present(p.Role) {
		if role, ok := ParseRole(scalarString(p.Role)); ok {
			return role
		}
	}
	if present(p.UmrahOffice) || present(p.Office) {
		return RoleOffice
	}
	return RolePilgrim
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && !bytes.Equal(trimmed, []byte("false"))
}

func scalarString(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if c := trimmed[0]; c == '-' || (c >= '0' && c <= '9') {
		return string(trimmed)
	}
	return ""
}
