package api

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/alosarv/hydra/rangeset"
	"github.com/alosarv/hydra/sharedfile"
)

// DownloadGET summarizes one SharedFile for the /downloads listing.
type DownloadGET struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Size      uint64 `json:"size"`
	Completed uint64 `json:"completed"`
	Partial   bool   `json:"partial"`
	State     string `json:"state"`
}

// DownloadsGET contains every SharedFile known to the FilesList.
type DownloadsGET struct {
	Downloads []DownloadGET `json:"downloads"`
}

// RangeJSON mirrors a rangeset.Range for JSON responses.
type RangeJSON struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

// DownloadDetailGET is the detailed per-download view returned by
// /downloads/:id, exposing the PartData range lists tracked for an
// in-progress download. Completed downloads report Complete only.
type DownloadDetailGET struct {
	DownloadGET
	Complete []RangeJSON `json:"complete,omitempty"`
	Verified []RangeJSON `json:"verified,omitempty"`
	Corrupt  []RangeJSON `json:"corrupt,omitempty"`
	Locked   []RangeJSON `json:"locked,omitempty"`
}

// RegisterRoutesDownloads registers the /downloads routes against fl.
func RegisterRoutesDownloads(router *httprouter.Router, fl *sharedfile.FilesList) {
	router.GET("/downloads", wrap(func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		return downloadsHandler(fl, w, req, ps)
	}))
	router.GET("/downloads/:id", wrap(func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) error {
		return downloadHandler(fl, w, req, ps)
	}))
}

// downloadGETFromSharedFile summarizes sf for the listing/detail views.
func downloadGETFromSharedFile(sf *sharedfile.SharedFile) DownloadGET {
	meta, _ := sf.Metadata()
	state := "Complete"
	var completed uint64 = meta.Size
	if pd := sf.PartData(); pd != nil {
		state = pd.State().String()
		completed = pd.Downloaded()
	}
	return DownloadGET{
		ID:        uint64(sf.ID()),
		Name:      meta.Name,
		Size:      meta.Size,
		Completed: completed,
		Partial:   sf.IsPartial(),
		State:     state,
	}
}

// downloadsHandler handles GET /downloads.
func downloadsHandler(fl *sharedfile.FilesList, w http.ResponseWriter, _ *http.Request, _ httprouter.Params) error {
	all := fl.All()
	out := make([]DownloadGET, 0, len(all))
	for _, sf := range all {
		out = append(out, downloadGETFromSharedFile(sf))
	}
	WriteJSON(w, DownloadsGET{Downloads: out})
	return nil
}

// downloadHandler handles GET /downloads/:id.
func downloadHandler(fl *sharedfile.FilesList, w http.ResponseWriter, _ *http.Request, ps httprouter.Params) error {
	raw, err := strconv.ParseUint(ps.ByName("id"), 10, 64)
	if err != nil {
		WriteError(w, Error{"invalid download id: " + err.Error()}, http.StatusBadRequest)
		return nil
	}
	sf, ok := fl.Get(sharedfile.ID(raw))
	if !ok {
		WriteError(w, Error{"no such download"}, http.StatusNotFound)
		return nil
	}

	detail := DownloadDetailGET{DownloadGET: downloadGETFromSharedFile(sf)}
	if pd := sf.PartData(); pd != nil {
		detail.Complete = toRangeJSON(pd.Complete())
		detail.Verified = toRangeJSON(pd.Verified())
		detail.Corrupt = toRangeJSON(pd.Corrupt())
		detail.Locked = toRangeJSON(pd.Locked())
	} else if detail.Size > 0 {
		detail.Complete = []RangeJSON{{Begin: 0, End: detail.Size - 1}}
	}
	WriteJSON(w, detail)
	return nil
}

func toRangeJSON(ranges []rangeset.Range) []RangeJSON {
	out := make([]RangeJSON, len(ranges))
	for i, r := range ranges {
		out[i] = RangeJSON{Begin: r.Begin, End: r.End}
	}
	return out
}
