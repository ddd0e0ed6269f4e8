package faketsm

import (
	"crypto"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/go-tsm-tools/configfs/configfsi"
)

// RtmrEntry is the kernel state of one rtmr directory.
type RtmrEntry struct {
	// Index is the RTMR this entry is bound to, valid once Initialized.
	Index       int
	Initialized bool
	// Digests records every digest extended through this entry, in order.
	Digests [][]byte
}

// RtmrSubsystem is a fake configfs-tsm rtmr subsystem.
type RtmrSubsystem struct {
	mu sync.Mutex
	// Entries maps entry names to their state.
	Entries map[string]*RtmrEntry
	// Extendable lists the RTMR indexes userspace may extend. Nil allows all.
	Extendable []int
}

// Rtmr returns an empty rtmr subsystem.
func Rtmr() *RtmrSubsystem {
	return &RtmrSubsystem{Entries: make(map[string]*RtmrEntry)}
}

// MkdirTemp implements configfsi.Client.
func (r *RtmrSubsystem) MkdirTemp(dir, pattern string) (string, error) {
	p, err := entryPath("MkdirTemp", dir)
	if err != nil {
		return "", err
	}
	if p.Entry != "" {
		return "", fmt.Errorf("MkdirTemp: rtmr entry %q cannot have subdirectories", dir)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Entries == nil {
		r.Entries = make(map[string]*RtmrEntry)
	}
	name := configfsi.TempName(pattern)
	if _, ok := r.Entries[name]; ok {
		return "", os.ErrExist
	}
	r.Entries[name] = &RtmrEntry{}
	return path.Join(dir, name), nil
}

func (r *RtmrSubsystem) lookup(op, name string) (*RtmrEntry, string, error) {
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

// ReadFile implements configfsi.Client. Only index is readable.
func (r *RtmrSubsystem) ReadFile(name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, attr, err := r.lookup("ReadFile", name)
	if err != nil {
		return nil, err
	}
	switch attr {
	case "index":
		if !e.Initialized {
			return nil, fmt.Errorf("ReadFile %s: %w", name, syscall.ENXIO)
		}
		return []byte(strconv.Itoa(e.Index) + "\n"), nil
	case "digest":
		return nil, fmt.Errorf("ReadFile %s: %w", name, syscall.EACCES)
	}
	return nil, fmt.Errorf("ReadFile %s: %w", name, os.ErrNotExist)
}

// WriteFile implements configfsi.Client.
func (r *RtmrSubsystem) WriteFile(name string, contents []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, attr, err := r.lookup("WriteFile", name)
	if err != nil {
		return err
	}
	switch attr {
	case "index":
		index, err := strconv.Atoi(strings.TrimSpace(string(contents)))
		if err != nil || index < 0 {
			return fmt.Errorf("WriteFile %s: %w", name, syscall.EINVAL)
		}
		if e.Initialized && e.Index != index {
			return fmt.Errorf("WriteFile %s: %w", name, syscall.EBUSY)
		}
		e.Index = index
		e.Initialized = true
		return nil
	case "digest":
		if len(contents) != crypto.SHA384.Size() {
			return fmt.Errorf("WriteFile %s: %w", name, syscall.EINVAL)
		}
		if !e.Initialized {
			return fmt.Errorf("WriteFile %s: %w", name, syscall.ENXIO)
		}
		if r.Extendable != nil && !slices.Contains(r.Extendable, e.Index) {
			return fmt.Errorf("WriteFile %s: %w", name, syscall.EPERM)
		}
		e.Digests = append(e.Digests, slices.Clone(contents))
		return nil
	}
	return fmt.Errorf("WriteFile %s: %w", name, os.ErrNotExist)
}

// RemoveAll implements configfsi.Client.
func (r *RtmrSubsystem) RemoveAll(name string) error {
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
func (r *RtmrSubsystem) ReadDir(dirname string) ([]fs.DirEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return listEntries(dirname, slices.Sorted(maps.Keys(r.Entries)))
}

// EntriesFor returns the names of every initialized entry bound to index, sorted.
func (r *RtmrSubsystem) EntriesFor(index int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, name := range slices.Sorted(maps.Keys(r.Entries)) {
		if e := r.Entries[name]; e.Initialized && e.Index == index {
			names = append(names, name)
		}
	}
	return names
}
