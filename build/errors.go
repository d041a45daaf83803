package build

import (
	"errors"
	"strings"
)

// ComposeErrors takes multiple errors and composes them into a single error
// with a combined message. Nil errors are stripped; if every input is nil,
// nil is returned.
func ComposeErrors(errs ...error) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ExtendErr prefixes err with s. If err is nil, nil is returned and s is
// discarded.
func ExtendErr(s string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(s + ": " + err.Error())
}
