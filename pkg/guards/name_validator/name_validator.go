package name_validator

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/domain"
)

const (
	GuardName = "name_validator"

	// Server-aligned name length limits.
	maxDatabaseNameLength   = 64
	maxCollectionNameLength = 255
)

// Databases reserved for server internals.
var reservedDatabases = map[string]struct{}{
	"admin":  {},
	"local":  {},
	"config": {},
}

type Validator struct {
	logger *logrus.Logger
}

func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{logger: logger}
}

func (v *Validator) Name() string {
	return GuardName
}

// ValidateDatabaseName rejects empty, reserved, oversized, and
// illegally-charactered database names.
func (v *Validator) ValidateDatabaseName(name string) error {
	if name == "" {
		return v.reject("database", name, "name is empty")
	}
	if len(name) > maxDatabaseNameLength {
		return v.reject("database", name, "name is too long")
	}
	if _, reserved := reservedDatabases[strings.ToLower(name)]; reserved {
		return v.reject("database", name, "reserved system database")
	}
	if strings.ContainsAny(name, "$\x00/\\. \"") {
		return v.reject("database", name, "name contains illegal characters")
	}
	return nil
}

// ValidateCollectionName rejects empty, system-prefixed, oversized, and
// illegally-charactered collection names.
func (v *Validator) ValidateCollectionName(name string) error {
	if name == "" {
		return v.reject("collection", name, "name is empty")
	}
	if len(name) > maxCollectionNameLength {
		return v.reject("collection", name, "name is too long")
	}
	if strings.HasPrefix(name, "system.") {
		return v.reject("collection", name, "system collections are not accessible")
	}
	if strings.HasPrefix(name, "$") || strings.ContainsRune(name, '\x00') {
		return v.reject("collection", name, "name contains illegal characters")
	}
	return nil
}

func (v *Validator) reject(kind, name, reason string) error {
	v.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"name":   name,
		"reason": reason,
	}).Warn("resource name rejected")
	return &domain.NameRejectedError{Kind: kind, Name: name, Reason: reason}
}
