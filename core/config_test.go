package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setEnv(t *testing.T, kv map[string]string) {
	for k, v := range kv {
		prev, had := os.LookupEnv(k)
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("os.Setenv() failed: %v", err)
		}
		k := k
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	setEnv(t, map[string]string{
		"ENV":                    "test",
		"TEST_RELAYURL":          " http://relay.local:5000/ ",
		"TEST_TEACHERNAME":       "  Ms T ",
		"TEST_INSIGHTTIMEOUT":    "20s",
		"TEST_RECONNECTATTEMPTS": "3",
		"TEST_LOGLEVEL":          "DEBUG",
	})

	conf, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() failed: %v", err)
	}
	assert.Equal(t, "TEST", conf.Env)
	assert.True(t, conf.TestMode)
	assert.Equal(t, "ClassGuard", conf.AppName)
	assert.Equal(t, "Ms T", conf.TeacherName)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "http://relay.local:5000", conf.Relay.URL)
	assert.Equal(t, 3, conf.Relay.ReconnectAttempts)
	assert.Equal(t, time.Second, conf.Relay.ReconnectDelay)
	assert.Equal(t, conf.Relay.URL, conf.Inference.URL)
	assert.Equal(t, 20*time.Second, conf.Inference.InsightTimeout)
	assert.Equal(t, 30*time.Second, conf.Inference.CodeReviewTimeout)
	assert.Equal(t, 10*time.Second, conf.Inference.SuggestTimeout)
	assert.Equal(t, ":8000", conf.Server.Addr)
}

func TestNewConfig_separateInferenceURL(t *testing.T) {
	setEnv(t, map[string]string{
		"ENV":         "test",
		"TEST_APIURL": "http://ai.local/",
	})

	conf, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() failed: %v", err)
	}
	assert.Equal(t, DefaultRelayURL, conf.Relay.URL)
	assert.Equal(t, "http://ai.local", conf.Inference.URL)
}

func TestNewConfig_invalid(t *testing.T) {
	setEnv(t, map[string]string{
		"ENV":                    "test",
		"TEST_TEACHERNAME":       "   ",
		"TEST_RECONNECTATTEMPTS": "-1",
	})

	_, err := NewConfig()
	if assert.True(t, IsValidationError(err), "NewConfig() error = %v, want *ValidationError", err) {
		assert.EqualError(t, err, "invalid configuration")
		assert.Equal(t, map[string]string{
			"reconnectAttempts": "must not be negative",
			"teacherName":       "this field is required",
		}, err.(*ValidationError).FieldMap())
	}
}
