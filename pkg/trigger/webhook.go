package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// signatureHeader carries the caller-supplied HMAC of the raw body.
const signatureHeader = "X-Hub-Signature-256"

// webhookTrigger binds an HTTP listener to loopback only and turns
// authenticated requests into events. The handler replies 200
// synchronously; it never waits for the agent to finish.
type webhookTrigger struct {
	service string
	port    int
	path    string
	method  string
	secret  string

	echo *echo.Echo

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

func newWebhook(service string, cfg compose.TriggerConfig) (Trigger, error) {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	return &webhookTrigger{
		service: service,
		port:    cfg.Port,
		path:    path,
		method:  method,
		secret:  cfg.Secret,
		done:    make(chan struct{}),
	}, nil
}

func (t *webhookTrigger) Start(onEvent Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("webhook trigger for service %q already started", t.service)
	}

	// Loopback only.
	addr := fmt.Sprintf("127.0.0.1:%d", t.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind webhook listener on %s: %w", addr, err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = listener
	e.Add(t.method, t.path, t.handler(onEvent))

	t.echo = e
	t.started = true

	go func() {
		defer close(t.done)
		if err := e.Start(""); err != nil && err != http.ErrServerClosed {
			slog.Error("Webhook server stopped unexpectedly", "service", t.service, "error", err)
		}
	}()

	slog.Info("Webhook trigger listening", "service", t.service, "addr", addr, "path", t.path, "method", t.method)
	return nil
}

func (t *webhookTrigger) handler(onEvent Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
		}

		if t.secret != "" {
			if !verifySignature(t.secret, body, c.Request().Header.Get(signatureHeader)) {
				slog.Warn("Webhook signature rejected", "service", t.service, "remote", c.RealIP())
				return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
			}
		}

		onEvent(NewEvent(TypeWebhook, string(body), map[string]string{
			"path":   t.path,
			"remote": c.RealIP(),
		}))

		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// verifySignature checks "sha256=<hex hmac>" against an HMAC-SHA256 of
// the raw body. Comparison is constant time.
func verifySignature(secret string, body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	supplied, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(supplied, mac.Sum(nil))
}

func (t *webhookTrigger) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		e := t.echo
		t.mu.Unlock()
		if e == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			slog.Warn("Webhook server shutdown error", "service", t.service, "error", err)
		}
	})
}

func (t *webhookTrigger) Done() <-chan struct{} {
	return t.done
}
