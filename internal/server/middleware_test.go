package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// TestTimeoutMiddleware_NoConcurrentWriteOnSlowHandler guards against the
// middleware and the still-running handler both writing to the
// ResponseWriter: the handler sleeps past the deadline, then writes its
// own response after the middleware has already committed a 408. Run
// with -race, this must not report a data race, and the client must see
// exactly one response.
func TestTimeoutMiddleware_NoConcurrentWriteOnSlowHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(timeoutMiddlewareWithTimeout(10 * time.Millisecond))

	handlerDone := make(chan struct{})
	router.GET("/slow", func(c *gin.Context) {
		defer close(handlerDone)
		select {
		case <-c.Request.Context().Done():
		case <-time.After(time.Second):
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", rec.Code)
	}

	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handler goroutine never finished")
	}

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("response changed after handler finished: %d", rec.Code)
	}
}

func TestTimeoutMiddleware_FastHandlerCommitsNormally(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(timeoutMiddlewareWithTimeout(time.Second))
	router.GET("/fast", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fast", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
