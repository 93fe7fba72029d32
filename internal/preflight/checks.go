package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Pinger is satisfied by store backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStore pings the persistence backend with a short deadline.
func CheckStore(ctx context.Context, backend string, store Pinger) Result {
	name := "Store (" + backend + ")"
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckNtfy verifies that the ntfy server behind topicURL answers its health
// endpoint. Push failures never block the pipeline, so the check is optional.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Optional: true, Detail: "invalid topic url"}
	}
	healthURL := parsed.Scheme + "://" + parsed.Host + "/v1/health"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Optional: true, Detail: summarizeError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Optional: true, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Optional: true, Detail: "reachable"}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}
