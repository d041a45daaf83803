package sharedfile

import "os"

// readDirNames returns the regular file names directly inside dir,
// skipping subdirectories - Scan is deliberately non-recursive, matching
// the flat temp-dir/shared-dir layout this module scans.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
