package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alosarv/hydra/build"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
	"github.com/alosarv/hydra/sharedfile"
)

func newTestServer(t *testing.T) (*httptest.Server, *sharedfile.FilesList) {
	t.Helper()
	dir := build.TempDir("api", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	io := iothread.New(nil, 0, 0)
	t.Cleanup(func() { io.Close() })

	fl, err := sharedfile.NewFilesList(io, sharedfile.NewMemMetaDb(), filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fl.Close() })

	server := httptest.NewServer(NewRouter(fl))
	t.Cleanup(server.Close)
	return server, fl
}

func TestDownloadsListsKnownDownloads(t *testing.T) {
	server, fl := newTestServer(t)

	location := filepath.Join(t.TempDir(), "part.dat")
	destination := filepath.Join(t.TempDir(), "dest.bin")
	sf, err := fl.CreateDownload(location, destination, 4096, partdata.Config{})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(server.URL + "/downloads")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var list DownloadsGET
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Downloads) != 1 {
		t.Fatalf("expected 1 download, got %d", len(list.Downloads))
	}
	if list.Downloads[0].ID != uint64(sf.ID()) {
		t.Fatalf("expected download id %d, got %d", sf.ID(), list.Downloads[0].ID)
	}
	if list.Downloads[0].Size != 4096 {
		t.Fatalf("expected size 4096, got %d", list.Downloads[0].Size)
	}
}

func TestDownloadDetailReturnsRangeLists(t *testing.T) {
	server, fl := newTestServer(t)

	location := filepath.Join(t.TempDir(), "part.dat")
	destination := filepath.Join(t.TempDir(), "dest.bin")
	sf, err := fl.CreateDownload(location, destination, 1024, partdata.Config{})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(server.URL + "/downloads/" + strconv.FormatUint(uint64(sf.ID()), 10))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var detail DownloadDetailGET
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.ID != uint64(sf.ID()) {
		t.Fatalf("expected id %d, got %d", sf.ID(), detail.ID)
	}
}

func TestDownloadDetailUnknownIDReturns404(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/downloads/999")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
