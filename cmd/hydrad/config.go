package main

import (
	"path/filepath"

	"github.com/kardianos/osext"
)

// defaultDataDir defaults the files-list index location to a "hydrad-data"
// folder next to the running binary, mirroring siad's binDir-relative
// defaults (cmd/siad/server.go's use of osext.ExecutableFolder) when no
// --dir flag is given.
func defaultDataDir() string {
	binDir, err := osext.ExecutableFolder()
	if err != nil {
		return "hydrad-data"
	}
	return filepath.Join(binDir, "hydrad-data")
}
