package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownOperator    = errors.New("unknown operator")
)

// Operator is a configured console account. There is no self sign-up.
type Operator struct {
	Email        string
	Role         string
	PasswordHash []byte
}

// NewOperator hashes a plaintext password. Use NewOperatorWithHash when the
// environment already provides a bcrypt hash.
func NewOperator(email, password, role string) (Operator, error) {
	if password == "" {
		return Operator{}, errors.New("operator password is required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Operator{}, err
	}
	return NewOperatorWithHash(email, string(h), role)
}

func NewOperatorWithHash(email, hash, role string) (Operator, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Operator{}, errors.New("operator email is required")
	}
	if role == "" {
		return Operator{}, errors.New("operator role is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return Operator{}, errors.New("operator password hash is not bcrypt")
	}
	return Operator{Email: email, Role: role, PasswordHash: []byte(hash)}, nil
}

// Directory is the read-only set of operators allowed to sign in.
type Directory struct {
	byEmail map[string]Operator
	dummy   []byte
}

func NewDirectory(ops ...Operator) *Directory {
	d := &Directory{byEmail: make(map[string]Operator, len(ops))}
	d.dummy, _ = bcrypt.GenerateFromPassword([]byte("placeholder"), bcrypt.DefaultCost)
	for _, op := range ops {
		d.byEmail[op.Email] = op
	}
	return d
}

// Authenticate checks the password against the stored hash. Unknown emails and
// wrong passwords return the same error.
func (d *Directory) Authenticate(email, password string) (Operator, error) {
	op, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		// Burn a comparison so unknown accounts take as long as known ones.
		_ = bcrypt.CompareHashAndPassword(d.dummy, []byte(password))
		return Operator{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(op.PasswordHash, []byte(password)); err != nil {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

func (d *Directory) Lookup(email string) (Operator, error) {
	op, ok := d.byEmail[normalizeEmail(email)]
	if !ok {
		return Operator{}, ErrUnknownOperator
	}
	return op, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
