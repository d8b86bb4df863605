// Package identity resolves authenticated operators to the store they run.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/fechamento/internal/shared"
)

// Role distinguishes store operators from the cross-store admin.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ErrUnknownIdentity is returned for identities missing from the directory.
var ErrUnknownIdentity = fmt.Errorf("identity: no store mapping: %w", shared.ErrUnauthenticated)

// Entry is one row of the identity table.
type Entry struct {
	Email        string `yaml:"email"`
	StoreID      string `yaml:"store"`
	DisplayName  string `yaml:"name"`
	Role         Role   `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
}

// Principal is the resolved actor attached to a request.
type Principal struct {
	Email       string
	StoreID     string
	DisplayName string
	Role        Role
}

// IsAdmin reports whether the principal has cross-store visibility.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccessStore reports whether the principal may see data of storeID.
func (p Principal) CanAccessStore(storeID string) bool {
	return p.IsAdmin() || (p.StoreID != "" && p.StoreID == storeID)
}

// Directory is a closed lookup table of identities.
type Directory struct {
	entries map[string]Entry
	stores  []string
}

type directoryFile struct {
	Identities []Entry `yaml:"identities"`
}

// NewDirectory validates entries and builds a Directory.
// Exactly one admin is required and every operator needs a store.
func NewDirectory(entries []Entry) (*Directory, error) {
	d := &Directory{entries: make(map[string]Entry, len(entries))}
	storeSet := make(map[string]struct{})
	admins := 0
	for i, e := range entries {
		e.Email = normalizeEmail(e.Email)
		e.StoreID = strings.TrimSpace(e.StoreID)
		if e.Role == "" {
			e.Role = RoleOperator
		}
		if e.Email == "" {
			return nil, fmt.Errorf("identity: entry %d: email required", i)
		}
		if _, dup := d.entries[e.Email]; dup {
			return nil, fmt.Errorf("identity: duplicate entry for %s", e.Email)
		}
		switch e.Role {
		case RoleAdmin:
			admins++
		case RoleOperator:
			if e.StoreID == "" {
				return nil, fmt.Errorf("identity: operator %s has no store", e.Email)
			}
			storeSet[e.StoreID] = struct{}{}
		default:
			return nil, fmt.Errorf("identity: unknown role %q for %s", e.Role, e.Email)
		}
		if e.DisplayName == "" {
			e.DisplayName = e.StoreID
		}
		d.entries[e.Email] = e
	}
	if admins != 1 {
		return nil, fmt.Errorf("identity: exactly one admin required, found %d", admins)
	}
	for s := range storeSet {
		d.stores = append(d.stores, s)
	}
	sort.Strings(d.stores)
	return d, nil
}

// LoadDirectory reads the identity table from a YAML file.
func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	return NewDirectory(file.Identities)
}

// Resolve maps an identity to its principal.
func (d *Directory) Resolve(email string) (Principal, error) {
	if d == nil {
		return Principal{}, errors.New("identity: directory not configured")
	}
	e, ok := d.entries[normalizeEmail(email)]
	if !ok {
		return Principal{}, ErrUnknownIdentity
	}
	return Principal{Email: e.Email, StoreID: e.StoreID, DisplayName: e.DisplayName, Role: e.Role}, nil
}

// Authenticate checks a password against the stored bcrypt hash.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (Principal, error) {
	if d == nil {
		return Principal{}, errors.New("identity: directory not configured")
	}
	e, ok := d.entries[normalizeEmail(email)]
	if !ok || e.PasswordHash == "" {
		return Principal{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(e.PasswordHash), []byte(password)); err != nil {
		return Principal{}, shared.ErrInvalidCredentials
	}
	return d.Resolve(e.Email)
}

// Stores lists every store id known to the directory, sorted.
func (d *Directory) Stores() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.stores))
	copy(out, d.stores)
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
