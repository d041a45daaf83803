package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alosarv/hydra/api"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/sharedfile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hydrad daemon, serving the read-only introspection API",
	Run:   wrap(servecmd),
}

func servecmd() {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		die("could not create data directory:", err)
	}

	iot := iothread.New(nil, 0, 0)
	defer iot.Close()

	fl, err := sharedfile.NewFilesList(iot, sharedfile.NewMemMetaDb(), filepath.Join(dataDir, "fileslist.db"))
	if err != nil {
		die("could not open files list:", err)
	}
	defer fl.Close()

	router := api.NewRouter(fl)
	fmt.Println("hydrad listening on", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		die("api server stopped:", err)
	}
}
