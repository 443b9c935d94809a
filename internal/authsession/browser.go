package authsession

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser launches the default browser at url. Failure is not fatal for
// the login flow; callers fall back to printing the URL.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	default:
		return fmt.Errorf("no known browser launcher for %s", runtime.GOOS)
	}
	return cmd.Start()
}
