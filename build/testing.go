package build

import (
	"os"
	"path/filepath"
)

// TempDir joins the provided path elements onto the OS temp directory under
// a "HydraTesting" namespace and removes any pre-existing directory at that
// path, giving each test a clean scratch directory.
func TempDir(dirs ...string) string {
	path := filepath.Join(append([]string{os.TempDir(), "HydraTesting"}, dirs...)...)
	err := os.RemoveAll(path)
	if err != nil {
		panic(err)
	}
	return path
}
