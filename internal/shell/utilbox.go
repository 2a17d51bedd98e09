package shell

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var utilBoxCandidates = []string{"toybox", "busybox"}

// UtilBox locates the userland multi-call binary on the managed host.
// The lookup runs once and is reused until Invalidate.
type UtilBox struct {
	shell Shell

	mu       sync.Mutex
	resolved bool
	path     string
}

// NewUtilBox creates a UtilBox that resolves through sh
func NewUtilBox(sh Shell) *UtilBox {
	return &UtilBox{shell: sh}
}

// Path returns the absolute path of toybox or busybox, or "" when neither exists
func (u *UtilBox) Path(ctx context.Context) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.resolved {
		return u.path
	}

	for _, name := range utilBoxCandidates {
		res, err := u.shell.Exec(ctx, "which "+name)
		if err != nil {
			if errors.Is(err, ErrShellUnavailable) {
				u.resolved = false
				u.path = ""
			}
			return ""
		}
		if res.IsSuccess() && len(res.Out) > 0 {
			if p := strings.TrimSpace(res.Out[0]); p != "" {
				u.path = p
				u.resolved = true
				return p
			}
		}
	}

	u.resolved = true
	u.path = ""
	return ""
}

// Invalidate forgets the cached path
func (u *UtilBox) Invalidate() {
	u.mu.Lock()
	u.resolved = false
	u.path = ""
	u.mu.Unlock()
}
