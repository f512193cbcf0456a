package inference

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/classguard/core/analysis"
)

func TestClient_Post(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		respBody   string
		wantOut    map[string]interface{}
		wantStatus int
		wantMsg    string
	}{
		{name: "ok", status: http.StatusOK, respBody: `{"status":"good"}`, wantOut: map[string]interface{}{"status": "good"}},
		{name: "empty body", status: http.StatusOK, wantOut: nil},
		{name: "server error", status: http.StatusTooManyRequests, respBody: `{"error":"Rate limit exceeded"}`, wantStatus: 429, wantMsg: "Rate limit exceeded"},
		{name: "non-json error", status: http.StatusBadGateway, respBody: `<html>bad gateway</html>`, wantStatus: 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotType string
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotType = r.Header.Get("Content-Type")
				gotBody, _ = ioutil.ReadAll(r.Body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.respBody))
			}))
			defer srv.Close()

			c := NewClient(srv.URL+"/", nil, nil)
			var out map[string]interface{}
			err := c.Post(context.Background(), "/api/ai/classroom-insights", map[string]interface{}{"students": map[string]interface{}{}}, &out)

			assert.Equal(t, "/api/ai/classroom-insights", gotPath)
			assert.Equal(t, "application/json", gotType)
			assert.JSONEq(t, `{"students":{}}`, string(gotBody))

			if tt.wantStatus != 0 {
				rErr, ok := err.(*analysis.ResponseError)
				if assert.True(t, ok, "Post() error = %v, want *analysis.ResponseError", err) {
					assert.Equal(t, tt.wantStatus, rErr.StatusCode)
					assert.Equal(t, tt.wantMsg, rErr.Message)
				}
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestClient_PostTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewClient(srv.URL, nil, nil).Post(ctx, "/x", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, ctx.Err())
}

// The analysis service on top of the HTTP client, end to end.
func TestClient_WithAnalysisService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/ai/message-suggest":
			var mc analysis.MessageContext
			_ = json.NewDecoder(r.Body).Decode(&mc)
			_ = json.NewEncoder(w).Encode(map[string]string{"direct": mc.Name + ", please return to your assignment."})
		case "/api/ai/classroom-insights":
			time.Sleep(100 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid token"}`))
		}
	}))
	defer srv.Close()

	svc := analysis.NewService(NewClient(srv.URL, nil, nil), analysis.Options{InsightTimeout: 20 * time.Millisecond})

	sugg, err := svc.SuggestMessage(context.Background(), analysis.MessageContext{Name: "Amy"})
	assert.NoError(t, err)
	assert.Equal(t, "Amy, please return to your assignment.", sugg.Text())

	_, err = svc.CodeReview(context.Background(), nil, "")
	assert.EqualError(t, err, "code_review: Invalid token")

	_, err = svc.ClassroomInsight(context.Background(), nil)
	assert.EqualError(t, err, "classroom_insight: timeout of 20ms exceeded")
}
