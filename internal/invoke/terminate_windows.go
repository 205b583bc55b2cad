//go:build windows

package invoke

import "os"

// terminate kills outright; windows has no SIGTERM for console children.
func terminate(p *os.Process) error {
	return p.Kill()
}
