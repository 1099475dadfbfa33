package response_redactor

import (
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
)

const (
	GuardName = "response_redactor"

	// RedactionMarker replaces every sensitive value.
	RedactionMarker = "[REDACTED]"
)

// Key substrings considered sensitive anywhere in a response. Matching is
// case-insensitive on the lower-cased key name. The same list governs what is
// safe to hand to a log sink.
var sensitiveSubstrings = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"key",
	"credential",
	"connectionstring",
	"connection_string",
}

// Parameters considered safe to expose from a getParameter dump. Anything
// else is dropped: a server parameter introduced after this list was reviewed
// must be hidden by default, not leaked.
var safeParameters = map[string]struct{}{
	"ok":                          {},
	"featurecompatibilityversion": {},
	"loglevel":                    {},
	"quiet":                       {},
	"notablescan":                 {},
	"maxtimems":                   {},
}

// redactFunc rewrites one command's response under its redaction strategy and
// reports how many fields it removed.
type redactFunc func(bson.M) (bson.M, int)

type Redactor struct {
	logger   *logrus.Logger
	policies map[string]redactFunc
}

func NewRedactor(logger *logrus.Logger) *Redactor {
	r := &Redactor{logger: logger}
	r.policies = map[string]redactFunc{
		"connectionstatus": r.redactConnectionStatus,
		"getlog":           r.redactGetLog,
		"getcmdlineopts":   r.redactCmdLineOpts,
		"getparameter":     r.redactGetParameter,
	}
	return r
}

func (r *Redactor) Name() string {
	return GuardName
}

// SanitizeResponse deep-clones data and replaces the value of any key whose
// lower-cased name contains a sensitive substring, at any nesting depth.
func (r *Redactor) SanitizeResponse(data interface{}) interface{} {
	if m, ok := treewalk.AsMap(data); ok {
		out := make(bson.M, len(m))
		for key, value := range m {
			if isSensitiveKey(key) {
				out[key] = RedactionMarker
				continue
			}
			out[key] = r.SanitizeResponse(value)
		}
		return out
	}
	if seq, ok := treewalk.AsSlice(data); ok {
		out := make(bson.A, len(seq))
		for i, item := range seq {
			out[i] = r.SanitizeResponse(item)
		}
		return out
	}
	return data
}

// RedactAdminResponse applies the per-command redaction policy and reports
// the number of removed fields. Commands without a policy return the response
// unchanged.
func (r *Redactor) RedactAdminResponse(commandName string, response bson.M) (bson.M, int) {
	if response == nil {
		return nil, 0
	}
	policy, ok := r.policies[strings.ToLower(commandName)]
	if !ok {
		return response, 0
	}
	return policy(response)
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, substr := range sensitiveSubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// connectionStatus responses carry the caller's full privilege and role
// lists; strip those and keep the rest.
func (r *Redactor) redactConnectionStatus(response bson.M) (bson.M, int) {
	out := cloneMap(response)
	removed := 0
	if authInfo, ok := treewalk.AsMap(out["authInfo"]); ok {
		cleaned := cloneMap(authInfo)
		removed += removeKey(cleaned, "authenticatedUserPrivileges")
		removed += removeKey(cleaned, "authenticatedUserRoles")
		out["authInfo"] = cleaned
	}
	return out, removed
}

// getLog responses include raw log lines which can embed connection strings
// and client details; drop the line array, keep the counters.
func (r *Redactor) redactGetLog(response bson.M) (bson.M, int) {
	out := cloneMap(response)
	return out, removeKey(out, "log")
}

// getCmdLineOpts responses include the raw startup argument vector.
func (r *Redactor) redactCmdLineOpts(response bson.M) (bson.M, int) {
	out := cloneMap(response)
	return out, removeKey(out, "argv")
}

// getParameter is allowlist-redacted: only parameters on the safe list
// survive, and the response reports how many fields were dropped.
func (r *Redactor) redactGetParameter(response bson.M) (bson.M, int) {
	out := bson.M{}
	redacted := 0
	for key, value := range response {
		if _, safe := safeParameters[strings.ToLower(key)]; safe {
			out[key] = value
			continue
		}
		redacted++
	}
	out["redactedFieldCount"] = redacted
	if redacted > 0 {
		r.logger.WithFields(logrus.Fields{
			"command":        "getParameter",
			"redacted_count": redacted,
		}).Debug("redacted unreviewed server parameters")
	}
	return out, redacted
}

func removeKey(m bson.M, key string) int {
	if _, present := m[key]; !present {
		return 0
	}
	delete(m, key)
	return 1
}

func cloneMap(m map[string]interface{}) bson.M {
	out := make(bson.M, len(m))
	for key, value := range m {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	if m, ok := treewalk.AsMap(value); ok {
		return cloneMap(m)
	}
	if seq, ok := treewalk.AsSlice(value); ok {
		out := make(bson.A, len(seq))
		for i, item := range seq {
			out[i] = cloneValue(item)
		}
		return out
	}
	return value
}
