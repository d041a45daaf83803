package persist

import (
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"os"
	"strings"

	"gitlab.com/NebulousLabs/errors"
	"gitlab.com/NebulousLabs/fastrand"

	"github.com/alosarv/hydra/build"
)

// tempSuffix is appended to the final filename while a safe write is in
// flight; LoadJSON refuses to read a path ending in it directly, since that
// file may be half-written.
const tempSuffix = "_temp"

// ErrBadFilenameSuffix is returned by LoadJSON when asked to load a path
// that still carries the temp-file suffix.
var ErrBadFilenameSuffix = errors.New("suffix of filename cannot be " + tempSuffix)

// Metadata identifies the structure and version of a persisted object, so
// that LoadJSON can refuse to load a file written by an incompatible past
// or future version of the caller.
type Metadata struct {
	Header  string
	Version string
}

type jsonFile struct {
	Metadata
	Data json.RawMessage
}

// SaveJSON writes object, tagged with meta, to filename. The write goes to
// filename+tempSuffix first and is then renamed into place so that a crash
// mid-write never leaves a half-written file at the real path.
func SaveJSON(meta Metadata, object interface{}, filename string) error {
	data, err := json.MarshalIndent(object, "", "\t")
	if err != nil {
		return build.ExtendErr("failed to marshal json object", err)
	}
	file := jsonFile{meta, data}
	finalData, err := json.MarshalIndent(file, "", "\t")
	if err != nil {
		return build.ExtendErr("failed to marshal persist metadata wrapper", err)
	}

	tmpFilename := filename + tempSuffix
	if err := ioutil.WriteFile(tmpFilename, finalData, 0644); err != nil {
		return build.ExtendErr("failed to write persist file", err)
	}
	if err := os.Rename(tmpFilename, filename); err != nil {
		return build.ExtendErr("failed to rename persist file into place", err)
	}
	return nil
}

// LoadJSON reads filename, verifies it matches meta, and decodes its
// contents into object.
func LoadJSON(meta Metadata, object interface{}, filename string) error {
	if strings.HasSuffix(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	var file jsonFile
	if err := json.Unmarshal(data, &file); err != nil {
		return build.ExtendErr("failed to unmarshal persist file", err)
	}
	if file.Header != meta.Header {
		return errors.New("wrong header for persist file " + filename)
	}
	if file.Version != meta.Version {
		return errors.New("wrong version for persist file " + filename)
	}
	return json.Unmarshal(file.Data, object)
}

// RandomSuffix returns a short random hex string suitable for
// disambiguating filenames.
func RandomSuffix() string {
	return hex.EncodeToString(fastrand.Bytes(6))
}
