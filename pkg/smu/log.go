package smu

import "github.com/go-logr/logr"

var log = logr.Discard()

// SetLogger replaces the logger used by the package. It is meant to be
// called once, before any instance is created.
func SetLogger(logger logr.Logger) {
	log = logger.WithName("smu")
}
