package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/alosarv/hydra/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the progress of every download a running hydrad serve knows about",
	Run:   wrap(statuscmd),
}

// apiGet mirrors cmd/siac's helper of the same name: a GET wrapped with a
// status-code check, decoding the api.Error body on anything non-2xx.
func apiGet(call string) (*http.Response, error) {
	if host, port, _ := net.SplitHostPort(addr); host == "" {
		addr = net.JoinHostPort("localhost", port)
	}
	resp, err := http.Get("http://" + addr + call)
	if err != nil {
		return nil, fmt.Errorf("no response from hydrad at %s: %w", addr, err)
	}
	if non2xx(resp.StatusCode) {
		defer resp.Body.Close()
		var apiErr api.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return nil, err
		}
		return nil, apiErr
	}
	return resp, nil
}

func non2xx(code int) bool {
	return code < 200 || code > 299
}

func statuscmd() {
	resp, err := apiGet("/downloads")
	if err != nil {
		die("could not fetch download status:", err)
	}
	defer resp.Body.Close()

	var list api.DownloadsGET
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		die("could not parse download status:", err)
	}

	if len(list.Downloads) == 0 {
		fmt.Println("No downloads known to hydrad at", addr)
		return
	}

	progress := mpb.New(mpb.WithWidth(60))
	for _, d := range list.Downloads {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("download %d", d.ID)
		}
		bar := progress.AddBar(int64(d.Size),
			mpb.PrependDecorators(decor.Name(name)),
			mpb.AppendDecorators(decor.Percentage()),
		)
		bar.SetCurrent(int64(d.Completed))
	}
	progress.Wait()
}
