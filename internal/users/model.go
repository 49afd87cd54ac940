package users

import (
	"strings"
)

// LoginKind tags the form of a login identifier.
type LoginKind int

const (
	LoginEmail LoginKind = iota
	LoginPhone
)

func (k LoginKind) String() string {
	if k == LoginPhone {
		return "phone"
	}
	return "email"
}

// LoginID is a parsed login identifier: an email address or a mobile number.
type LoginID struct {
	Kind  LoginKind
	Value string
}

// ParseLoginID classifies identifier. Anything containing "@" is an email;
// everything else is treated as a mobile number.
func ParseLoginID(identifier string) (LoginID, error) {
	v := strings.TrimSpace(identifier)
	if v == "" {
		return LoginID{}, ErrInvalidInput
	}
	if strings.Contains(v, "@") {
		return LoginID{Kind: LoginEmail, Value: NormalizeEmail(v)}, nil
	}
	return LoginID{Kind: LoginPhone, Value: v}, nil
}

// NormalizeEmail lowercases and trims an email address. The identity
// provider matches emails case-insensitively; profiles store them lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is the result of a successful login.
type Session struct {
	Token  string
	UserID string
	Email  string
}
