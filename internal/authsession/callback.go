package authsession

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// CallbackResult carries the query parameters of the authorization redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError reports whether the authorization server returned an error.
func (r *CallbackResult) IsError() bool { return r.Error != "" }

const callbackSuccessHTML = `<!DOCTYPE html><html><body>
<h2>Login complete</h2><p>You can close this tab and return to the agent.</p>
</body></html>`

const callbackErrorHTML = `<!DOCTYPE html><html><body>
<h2>Login failed</h2><p>%s</p><p>You can close this tab.</p>
</body></html>`

// CallbackListener is a short-lived local HTTP server that receives exactly
// one authorization redirect and then shuts down. Teardown is guaranteed on
// success, failure, and cancellation alike.
type CallbackListener struct {
	port     int
	server   *http.Server
	listener net.Listener
	resultCh chan *CallbackResult
	once     sync.Once
	baseURL  string
}

// NewCallbackListener creates a listener for the given port. Port 0 asks the
// kernel for an ephemeral port.
func NewCallbackListener(port int) *CallbackListener {
	return &CallbackListener{
		port:     port,
		resultCh: make(chan *CallbackResult, 1),
	}
}

// Start binds the listener and begins serving. It returns the redirect URI
// to advertise to the authorization server. The listener stops when the
// context is cancelled.
func (l *CallbackListener) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", l.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrListenerBind, err)
	}

	l.listener = ln
	l.port = ln.Addr().(*net.TCPAddr).Port
	l.baseURL = fmt.Sprintf("http://127.0.0.1:%d", l.port)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", l.handleCallback)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = l.server.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		l.Stop()
	}()

	return l.RedirectURI(), nil
}

// Wait blocks until the redirect arrives or the context ends.
func (l *CallbackListener) Wait(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-l.resultCh:
		return result, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	var handled bool
	l.once.Do(func() {
		handled = true

		query := r.URL.Query()
		result := &CallbackResult{
			Code:             query.Get("code"),
			State:            query.Get("state"),
			Error:            query.Get("error"),
			ErrorDescription: query.Get("error_description"),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if result.IsError() {
			fmt.Fprintf(w, callbackErrorHTML, result.Error)
		} else {
			fmt.Fprint(w, callbackSuccessHTML)
		}

		l.resultCh <- result

		// Give the response time to flush before tearing down.
		go func() {
			time.Sleep(time.Second)
			l.Stop()
		}()
	})

	if !handled {
		http.Error(w, "callback already processed", http.StatusBadRequest)
	}
}

// Stop shuts the listener down. Safe to call more than once.
func (l *CallbackListener) Stop() {
	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
	}
	if l.listener != nil {
		_ = l.listener.Close()
	}
}

// RedirectURI returns the URI the authorization server should redirect to.
func (l *CallbackListener) RedirectURI() string {
	return l.baseURL + "/callback"
}

// Port returns the bound port.
func (l *CallbackListener) Port() int { return l.port }
