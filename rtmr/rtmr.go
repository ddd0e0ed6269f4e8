// Package rtmr provides an API to the configfs/tsm/rtmr subsystem for extending
// runtime measurements to RTMR registers.
//
// Entries are found by scanning the subsystem on every call and created when no
// entry is bound to the requested index. Two processes extending the same unbound
// index at once may both create an entry; callers that need a single entry per index
// must serialize ExtendDigest calls for that index themselves.
package rtmr

import (
	"fmt"
	"path"
	"strconv"

	"github.com/google/go-tsm-tools/configfs/configfsi"
	"github.com/google/logger"
	"go.uber.org/multierr"
)

const (
	subsystem     = "rtmr"
	subsystemPath = configfsi.TsmPrefix + "/" + subsystem
	// The digest of the rtmr register.
	tsmRtmrDigest = "digest"
	// A Runtime Measurement Register (RTMR) hardware index.
	tsmPathIndex = "index"
)

// DigestSize is the length in bytes of every digest extended into an RTMR, the size
// of a SHA-384 hash.
const DigestSize = 48

// InvalidDigestLengthError is returned for a digest that is not DigestSize bytes.
type InvalidDigestLengthError struct {
	Expected int
	Actual   int
}

func (e *InvalidDigestLengthError) Error() string {
	return fmt.Sprintf("the length of the digest must be %d bytes, the input is %d bytes", e.Expected, e.Actual)
}

// InvalidIndexError is returned for a negative RTMR index.
type InvalidIndexError struct {
	Index int
}

func (e *InvalidIndexError) Error() string {
	return fmt.Sprintf("invalid rtmr index %d. Index can only be a non-negative number", e.Index)
}

// entry is a configfs rtmr directory bound to an index.
type entry struct {
	index  int
	path   configfsi.TsmPath
	client configfsi.Client
}

func (e *entry) attribute(subtree string) string {
	a := e.path.WithAttribute(subtree)
	return a.String()
}

// extendDigest extends the measurement to the rtmr with the given hash.
func (e *entry) extendDigest(hash []byte) error {
	p := e.attribute(tsmRtmrDigest)
	if err := e.client.WriteFile(p, hash); err != nil {
		return fmt.Errorf("could not write digest to rtmr%d: %w", e.index,
			&configfsi.IOError{Op: "write", Path: p, Err: err})
	}
	return nil
}

// setIndex binds a new configfs rtmr entry to its index.
func (e *entry) setIndex() error {
	p := e.attribute(tsmPathIndex)
	if err := e.client.WriteFile(p, []byte(strconv.Itoa(e.index))); err != nil {
		return &configfsi.IOError{Op: "write", Path: p, Err: err}
	}
	return nil
}

// searchEntry returns the first rtmr entry, in name order, bound to index, or nil if
// there is none.
func searchEntry(client configfsi.Client, index int) (*entry, error) {
	dirs, err := client.ReadDir(subsystemPath)
	if err != nil {
		return nil, &configfsi.IOError{Op: "readdir", Path: subsystemPath, Err: err}
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		e := &entry{
			index:  index,
			path:   configfsi.TsmPath{Subsystem: subsystem, Entry: d.Name()},
			client: client,
		}
		got, err := configfsi.ReadUint64File(client, e.attribute(tsmPathIndex))
		if err != nil {
			return nil, err
		}
		if got == uint64(index) {
			return e, nil
		}
	}
	return nil, nil
}

// createEntry creates a new rtmr entry in configfs bound to index.
func createEntry(client configfsi.Client, index int) (*entry, error) {
	dir, err := client.MkdirTemp(subsystemPath, fmt.Sprintf("rtmr%d-", index))
	if err != nil {
		return nil, &configfsi.IOError{Op: "mkdir", Path: subsystemPath, Err: err}
	}
	e := &entry{
		index:  index,
		path:   configfsi.TsmPath{Subsystem: subsystem, Entry: path.Base(dir)},
		client: client,
	}
	if err := e.setIndex(); err != nil {
		// An entry without an index would fail every later scan.
		return nil, multierr.Combine(fmt.Errorf("could not set rtmr index %d: %w", index, err),
			client.RemoveAll(dir))
	}
	logger.V(1).Infof("created rtmr entry %s for index %d", e.path.String(), index)
	return e, nil
}

// getEntry returns the rtmr entry for index, creating it if none exists yet.
func getEntry(client configfsi.Client, index int) (*entry, error) {
	e, err := searchEntry(client, index)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return e, nil
	}
	return createEntry(client, index)
}

// ExtendDigest extends the measurement to the rtmr with the given digest.
func ExtendDigest(client configfsi.Client, rtmr int, digest []byte) error {
	if len(digest) != DigestSize {
		return &InvalidDigestLengthError{Expected: DigestSize, Actual: len(digest)}
	}
	if rtmr < 0 {
		return &InvalidIndexError{Index: rtmr}
	}
	e, err := getEntry(client, rtmr)
	if err != nil {
		return err
	}
	return e.extendDigest(digest)
}
