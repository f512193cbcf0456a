package testutil

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

// MarshalJSON marshals `obj` or fails the test.
func MarshalJSON(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("MarshalJSON(): %v", err)
	}
	return data
}

// JSONBytesEqual compares two JSON documents, ignoring formatting and key order.
func JSONBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

// WaitFor polls `cond` until it holds or `timeout` elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("WaitFor(): %s", msg)
}
