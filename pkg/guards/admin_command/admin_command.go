package admin_command

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "admin_command"

	// DefaultMaxParamDepth bounds the object nesting of each parameter value.
	// Filters are governed separately by the depth limiter; administrative
	// parameters are expected to be nearly flat.
	DefaultMaxParamDepth = 2
)

// commandPolicies maps lower-cased command names to their allowed parameter
// keys (lower-cased). Every command additionally accepts maxTimeMS. Commands
// absent from this table pass their parameters through unchanged; the depth
// check still applies to them.
var commandPolicies = map[string]map[string]struct{}{
	"ping":             {},
	"hello":            {},
	"buildinfo":        {},
	"hostinfo":         {},
	"top":              {},
	"whatsmyuri":       {},
	"getcmdlineopts":   {},
	"serverstatus":     {"repl": {}, "metrics": {}, "locks": {}, "all": {}},
	"listdatabases":    {"filter": {}, "nameonly": {}, "authorizeddatabases": {}},
	"dbstats":          {"scale": {}},
	"collstats":        {"scale": {}},
	"connectionstatus": {"showprivileges": {}},
	"getparameter":     {"allparameters": {}},
	"getlog":           {"getlog": {}},
	"currentop":        {"all": {}, "ownops": {}},
	"validate":         {"full": {}},
}

// Parameter allowed on every command.
const timeoutParameter = "maxtimems"

type Config struct {
	MaxParamDepth int `mapstructure:"max_param_depth"`
}

type Validator struct {
	logger *logrus.Logger
	cfg    Config
}

func NewValidator(logger *logrus.Logger, cfg Config) *Validator {
	if cfg.MaxParamDepth <= 0 {
		cfg.MaxParamDepth = DefaultMaxParamDepth
	}
	return &Validator{logger: logger, cfg: cfg}
}

func (v *Validator) Name() string {
	return GuardName
}

// ValidateParams filters command against the policy for commandName. Keys are
// matched case-insensitively; unrecognized keys are dropped from the
// sanitized command, each drop producing a warning. Remaining parameter
// values are then checked independently against the nesting depth cap; a
// depth violation marks the whole result invalid.
func (v *Validator) ValidateParams(command bson.M, commandName string) types.AdminValidation {
	policy, hasPolicy := commandPolicies[strings.ToLower(commandName)]

	sanitized := bson.M{}
	var warnings []string

	for key, value := range command {
		// The command document carries its own name as the first key.
		if strings.EqualFold(key, commandName) {
			sanitized[key] = value
			continue
		}
		if hasPolicy && !allowed(policy, key) {
			warnings = append(warnings, fmt.Sprintf("parameter %q is not recognized for command %q and was removed", key, commandName))
			continue
		}
		sanitized[key] = value
	}

	for key, value := range sanitized {
		if paramDepth(value) > v.cfg.MaxParamDepth {
			warnings = append(warnings, fmt.Sprintf("parameter %q exceeds maximum nesting depth %d", key, v.cfg.MaxParamDepth))
			v.logger.WithFields(logrus.Fields{
				"command":   commandName,
				"parameter": key,
				"max_depth": v.cfg.MaxParamDepth,
			}).Warn("admin command parameter depth exceeded")
			return types.AdminValidation{Valid: false, Warnings: warnings}
		}
	}

	if len(warnings) > 0 {
		v.logger.WithFields(logrus.Fields{
			"command":  commandName,
			"warnings": warnings,
		}).Warn("admin command parameters stripped")
	}

	return types.AdminValidation{Valid: true, Sanitized: sanitized, Warnings: warnings}
}

func allowed(policy map[string]struct{}, key string) bool {
	lower := strings.ToLower(key)
	if lower == timeoutParameter {
		return true
	}
	_, ok := policy[lower]
	return ok
}

// paramDepth is the object nesting level of a parameter value: scalars are 0,
// an object or array adds one level per nesting.
func paramDepth(value interface{}) int {
	maxChild := 0
	nested := false
	if m, ok := treewalk.AsMap(value); ok {
		nested = true
		for _, child := range m {
			if d := paramDepth(child); d > maxChild {
				maxChild = d
			}
		}
	} else if seq, ok := treewalk.AsSlice(value); ok {
		nested = true
		for _, child := range seq {
			if d := paramDepth(child); d > maxChild {
				maxChild = d
			}
		}
	}
	if !nested {
		return 0
	}
	return maxChild + 1
}
