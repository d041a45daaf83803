// Package api implements the read-only HTTP introspection surface this
// module exposes: GET /downloads lists known SharedFiles, GET
// /downloads/:id returns one download's detailed range lists. Routes are
// registered per module, in their own file, each wrapped so a handler
// returning an error turns into a JSON 500 rather than a panic or a
// silently empty response. GET-only, since nothing here mutates state.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/alosarv/hydra/sharedfile"
)

// Error is the JSON envelope every failed API call returns, a single
// "message" field.
type Error struct {
	Message string `json:"message"`
}

// Error implements the error interface so Error can be passed to
// errors.Wrap/errors.Cause where convenient.
func (e Error) Error() string {
	return e.Message
}

// WriteJSON writes obj to w as a JSON response with status 200.
func WriteJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes err to w as a JSON Error response with the given status
// code.
func WriteError(w http.ResponseWriter, err Error, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(err)
}

// WriteSuccess writes an empty 204 response, for calls with no payload.
func WriteSuccess(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// wrap adapts a handler that can fail into an httprouter.Handle, writing a
// 500 Error response carrying pkg/errors.Wrap's added context when it
// does.
func wrap(fn func(http.ResponseWriter, *http.Request, httprouter.Params) error) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if err := fn(w, req, ps); err != nil {
			WriteError(w, Error{errors.Wrap(err, "api").Error()}, http.StatusInternalServerError)
		}
	}
}

// NewRouter builds the introspection router over fl.
func NewRouter(fl *sharedfile.FilesList) *httprouter.Router {
	router := httprouter.New()
	RegisterRoutesDownloads(router, fl)
	return router
}
