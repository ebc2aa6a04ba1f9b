package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/stackrun/internal/platform/logger"
	"github.com/yungbote/stackrun/internal/runner"
)

// loadTaskCode populates a runner.Registry from every *.js file under
// dir, using the filename (minus extension) as the task name. A
// missing directory is tolerated. This is the only wiring path, so with
// an empty registry submissions are still accepted, but every task run
// fails at dispatch with "no handler registered".
func loadTaskCode(dir string, log *logger.Logger) (*runner.Registry, error) {
	reg := runner.NewRegistry()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("task code directory not found, registry will be empty", "dir", dir)
			return reg, nil
		}
		return nil, fmt.Errorf("app: read task code dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		taskName := strings.TrimSuffix(entry.Name(), ".js")
		path := filepath.Join(dir, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("app: read task code %s: %w", path, err)
		}
		reg.Register(taskName, string(src))
		log.Debug("registered task code", "task_name", taskName, "path", path)
	}

	return reg, nil
}
