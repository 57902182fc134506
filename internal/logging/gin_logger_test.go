package logging

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		recovered := recover()
		err, ok := recovered.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler panic, got %v", recovered)
		}
	}()

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerTagsCommandRoutesAndMasksCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&LogFormatter{})
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	var seenID string
	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/v0/auth/users", func(c *gin.Context) {
		seenID = GetRequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v0/auth/users?code=supersecretcode", nil))

	if len(seenID) != 8 {
		t.Fatalf("expected 8 char request id, got %q", seenID)
	}
	out := buf.String()
	if !strings.Contains(out, seenID) {
		t.Fatalf("log line missing request id: %q", out)
	}
	if strings.Contains(out, "supersecretcode") {
		t.Fatalf("log line leaked code: %q", out)
	}
}
