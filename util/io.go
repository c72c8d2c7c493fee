package util

// Reader is satisfied by every format that can populate a State from a
// source: the YAML forward parser and the connection-manager keyfile
// importer.
type Reader interface {
	Read(src string, phys []Phy) (*State, error)
}

// Writer is satisfied by every renderer: the network-daemon renderer,
// the connection-manager renderer, the legacy ifcfg-* renderer, and the
// canonical YAML emitter (writing a State back out as netplan YAML).
type Writer interface {
	Write(dest string) error
}

// NewWriter constructs a Writer bound to a State, keyed by backend name.
type NewWriter func(s *State) Writer

// NewReaderFunc constructs a fresh Reader for a format.
type NewReaderFunc func() Reader
