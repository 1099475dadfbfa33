package response_redactor

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRedactor_SanitizeResponse(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	tests := []struct {
		name string
		in   bson.M
		key  string
	}{
		{"password", bson.M{"password": "hunter2"}, "password"},
		{"mixed case", bson.M{"UserPassword": "hunter2"}, "UserPassword"},
		{"api key", bson.M{"apiKey": "sk-123"}, "apiKey"},
		{"secret", bson.M{"clientSecret": "shh"}, "clientSecret"},
		{"token", bson.M{"accessToken": "t"}, "accessToken"},
		{"connection string", bson.M{"connectionString": "mongodb://u:p@h"}, "connectionString"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := redactor.SanitizeResponse(tt.in).(bson.M)
			require.True(t, ok)
			assert.Equal(t, RedactionMarker, out[tt.key])
		})
	}
}

func TestRedactor_SanitizeResponse_NestedAndArrays(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	in := bson.M{
		"config": bson.M{
			"auth": bson.M{"adminPassword": "x"},
		},
		"servers": bson.A{
			bson.M{"host": "a", "apiToken": "t1"},
			bson.M{"host": "b", "apiToken": "t2"},
		},
		"name": "cluster-1",
	}
	out, ok := redactor.SanitizeResponse(in).(bson.M)
	require.True(t, ok)

	config := out["config"].(bson.M)
	auth := config["auth"].(bson.M)
	assert.Equal(t, RedactionMarker, auth["adminPassword"])

	servers := out["servers"].(bson.A)
	for _, s := range servers {
		assert.Equal(t, RedactionMarker, s.(bson.M)["apiToken"])
	}
	assert.Equal(t, "cluster-1", out["name"])

	// The input is deep-cloned, never mutated.
	assert.Equal(t, "x", in["config"].(bson.M)["auth"].(bson.M)["adminPassword"])
}

func TestRedactor_RedactAdminResponse_NoPolicy(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	response := bson.M{"ok": 1, "version": "7.0.5"}
	out, removed := redactor.RedactAdminResponse("buildInfo", response)
	assert.Equal(t, response, out)
	assert.Zero(t, removed)
}

func TestRedactor_RedactAdminResponse_ConnectionStatus(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	response := bson.M{
		"ok": 1,
		"authInfo": bson.M{
			"authenticatedUsers":          bson.A{bson.M{"user": "scout", "db": "admin"}},
			"authenticatedUserRoles":      bson.A{bson.M{"role": "root", "db": "admin"}},
			"authenticatedUserPrivileges": bson.A{bson.M{"resource": bson.M{}}},
		},
	}
	out, removed := redactor.RedactAdminResponse("connectionStatus", response)

	authInfo, ok := out["authInfo"].(bson.M)
	require.True(t, ok)
	assert.NotContains(t, authInfo, "authenticatedUserRoles")
	assert.NotContains(t, authInfo, "authenticatedUserPrivileges")
	assert.Contains(t, authInfo, "authenticatedUsers")
	assert.Equal(t, 1, out["ok"])
	assert.Equal(t, 2, removed)
	// Original keeps its role list.
	assert.Contains(t, response["authInfo"].(bson.M), "authenticatedUserRoles")
}

func TestRedactor_RedactAdminResponse_GetLog(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	out, removed := redactor.RedactAdminResponse("getLog", bson.M{
		"ok":                1,
		"totalLinesWritten": 128,
		"log":               bson.A{"2025-01-01 connection accepted from 10.0.0.5"},
	})
	assert.NotContains(t, out, "log")
	assert.Equal(t, 128, out["totalLinesWritten"])
	assert.Equal(t, 1, removed)
}

func TestRedactor_RedactAdminResponse_GetCmdLineOpts(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	out, removed := redactor.RedactAdminResponse("getCmdLineOpts", bson.M{
		"ok":     1,
		"argv":   bson.A{"mongod", "--keyFile", "/etc/secret"},
		"parsed": bson.M{"net": bson.M{"port": 27017}},
	})
	assert.NotContains(t, out, "argv")
	assert.Contains(t, out, "parsed")
	assert.Equal(t, 1, removed)
}

func TestRedactor_RedactAdminResponse_GetParameterFailClosed(t *testing.T) {
	redactor := NewRedactor(logrus.New())

	out, removed := redactor.RedactAdminResponse("getParameter", bson.M{
		"ok":                 1,
		"logLevel":           0,
		"shinyFutureParam":   "surprise",
		"anotherUnknownKnob": 42,
	})

	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "logLevel")
	assert.NotContains(t, out, "shinyFutureParam")
	assert.NotContains(t, out, "anotherUnknownKnob")
	assert.Equal(t, 2, out["redactedFieldCount"])
	// The reported removal count matches the in-band field exactly; the
	// added redactedFieldCount key must not skew it.
	assert.Equal(t, 2, removed)
}

func TestRedactor_RedactAdminResponse_Nil(t *testing.T) {
	redactor := NewRedactor(logrus.New())
	out, removed := redactor.RedactAdminResponse("getLog", nil)
	assert.Nil(t, out)
	assert.Zero(t, removed)
}
