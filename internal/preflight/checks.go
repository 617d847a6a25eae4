package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Pinger is implemented by stores that can verify their connection.
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

// CheckDatabase pings the store with a five second budget.
func CheckDatabase(ctx context.Context, name string, db Pinger) Result {
	if db == nil {
		return Result{Name: name, Detail: "unavailable"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(checkCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Name: name, Detail: "ping timed out (database locked?)"}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}
