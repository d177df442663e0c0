package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const defaultDotPath = "~/.ngwarden"

// GetWorkDir expands dotPath (default ~/.ngwarden), joins path and makes sure
// the directory exists.
func GetWorkDir(dotPath string, path ...string) (string, error) {
	if dotPath == "" {
		dotPath = defaultDotPath
	}
	workDir, err := homedir.Expand(filepath.Join(append([]string{dotPath}, path...)...))
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", dotPath, err)
	}
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create %s: %w", workDir, err)
	}
	return workDir, nil
}
