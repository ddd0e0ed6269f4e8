package faketsm

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"slices"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/go-tsm-tools/configfs/configfsi"
)

var reportWritable = map[string]bool{
	"inblob":                   true,
	"privlevel":                true,
	"service_provider":         true,
	"service_guid":             true,
	"service_manifest_version": true,
}

// ReportEntry is the kernel state of one report directory.
type ReportEntry struct {
	// Generation is bumped on every successful attribute write.
	Generation uint64
	// InAttrs holds the last value written to each input attribute.
	InAttrs map[string][]byte
	// Reads records every attribute read in order, generation included.
	Reads []string
}

// ReportSubsystem is a fake configfs-tsm report subsystem.
type ReportSubsystem struct {
	mu sync.Mutex
	// Entries maps entry names to their state.
	Entries map[string]*ReportEntry
	// InitialGeneration is the generation of newly created entries.
	InitialGeneration uint64
	// Provider is the value of every entry's provider attribute.
	Provider string
	// WriteAttr, if set, is called on every write to an input attribute before the
	// value is stored. An error fails the write and leaves the generation unchanged.
	WriteAttr func(e *ReportEntry, attr string, contents []byte) error
	// ReadAttr, if set, replaces the default contents of every attribute other than
	// generation.
	ReadAttr func(e *ReportEntry, attr string) ([]byte, error)
}

// Report returns an empty report subsystem whose provider is "fake".
func Report() *ReportSubsystem {
	return &ReportSubsystem{
		Entries:  make(map[string]*ReportEntry),
		Provider: "fake\n",
	}
}

// Entry returns the state of the entry at the given configfs path.
func (r *ReportSubsystem) Entry(name string) (*ReportEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, _, err := r.lookup("Entry", name)
	return e, err
}

// MkdirTemp implements configfsi.Client.
func (r *ReportSubsystem) MkdirTemp(dir, pattern string) (string, error) {
	p, err := entryPath("MkdirTemp", dir)
	if err != nil {
		return "", err
	}
	if p.Entry != "" {
		return "", fmt.Errorf("MkdirTemp: report entry %q cannot have subdirectories", dir)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Entries == nil {
		r.Entries = make(map[string]*ReportEntry)
	}
	name := configfsi.TempName(pattern)
	if _, ok := r.Entries[name]; ok {
		return "", os.ErrExist
	}
	r.Entries[name] = &ReportEntry{Generation: r.InitialGeneration, InAttrs: make(map[string][]byte)}
	return path.Join(dir, name), nil
}

func (r *ReportSubsystem) lookup(op, name string) (*ReportEntry, string, error) {
	p, err := entryPath(op, name)
	if err != nil {
		return nil, "", err
	}
	e, ok := r.Entries[p.Entry]
	if !ok || p.Entry == "" {
		return nil, "", fmt.Errorf("%s %s: %w", op, name, os.ErrNotExist)
	}
	return e, p.Attribute, nil
}

// WriteFile implements configfsi.Client.
func (r *ReportSubsystem) WriteFile(name string, contents []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, attr, err := r.lookup("WriteFile", name)
	if err != nil {
		return err
	}
	if !reportWritable[attr] {
		return fmt.Errorf("WriteFile %s: %w", name, syscall.EACCES)
	}
	if r.WriteAttr != nil {
		if err := r.WriteAttr(e, attr, contents); err != nil {
			return err
		}
	}
	e.InAttrs[attr] = slices.Clone(contents)
	e.Generation++
	return nil
}

// ReadFile implements configfsi.Client.
func (r *ReportSubsystem) ReadFile(name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, attr, err := r.lookup("ReadFile", name)
	if err != nil {
		return nil, err
	}
	if reportWritable[attr] {
		return nil, fmt.Errorf("ReadFile %s: %w", name, syscall.EACCES)
	}
	e.Reads = append(e.Reads, attr)
	if attr == "generation" {
		return []byte(strconv.FormatUint(e.Generation, 10) + "\n"), nil
	}
	if r.ReadAttr != nil {
		return r.ReadAttr(e, attr)
	}
	return r.ReadDefault(e, attr)
}

// ReadDefault returns the built-in contents of an output attribute. ReadAttr hooks
// may call it for attributes they do not override.
func (r *ReportSubsystem) ReadDefault(e *ReportEntry, attr string) ([]byte, error) {
	switch attr {
	case "outblob":
		return append([]byte("report:"), e.InAttrs["inblob"]...), nil
	case "auxblob":
		return []byte("auxblob"), nil
	case "provider":
		return []byte(r.Provider), nil
	case "privlevel_floor":
		return []byte("0\n"), nil
	case "manifestblob":
		sp, ok := e.InAttrs["service_provider"]
		if !ok {
			return nil, syscall.ENOENT
		}
		return append([]byte("manifest:"), sp...), nil
	}
	return nil, os.ErrNotExist
}

// RemoveAll implements configfsi.Client.
func (r *ReportSubsystem) RemoveAll(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := entryPath("RemoveAll", name)
	if err != nil {
		return err
	}
	if p.Entry == "" || p.Attribute != "" {
		return fmt.Errorf("RemoveAll %s: %w", name, syscall.EPERM)
	}
	delete(r.Entries, p.Entry)
	return nil
}

// ReadDir implements configfsi.Client.
func (r *ReportSubsystem) ReadDir(dirname string) ([]fs.DirEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listEntries(dirname, slices.Sorted(maps.Keys(r.Entries)))
}
