// Package configfsi defines the client interface to the configfs-tsm subsystem and
// the path model shared by its report and rtmr users.
package configfsi

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TsmPrefix is the path to the configfs tsm system.
const TsmPrefix = "/sys/kernel/config/tsm"

// Client abstracts the filesystem operations the configfs-tsm protocol needs.
type Client interface {
	// MkdirTemp creates a new temporary directory in the directory dir and returns
	// the pathname of the new directory. The name begins with pattern.
	MkdirTemp(dir, pattern string) (string, error)
	// ReadFile reads the named file and returns the contents.
	ReadFile(name string) ([]byte, error)
	// WriteFile writes data to the named file, creating it if necessary. The file
	// does not need to be readable afterwards.
	WriteFile(name string, contents []byte) error
	// RemoveAll removes path and any children it contains.
	RemoveAll(path string) error
	// ReadDir reads the named directory and returns its entries sorted by filename.
	ReadDir(dirname string) ([]fs.DirEntry, error)
}

// TsmPath represents a configfs-tsm path broken into its three addressable parts.
type TsmPath struct {
	// Subsystem is the tsm subsystem, e.g. "report" or "rtmr".
	Subsystem string
	// Entry is the directory under the subsystem. Empty only for the subsystem root.
	Entry string
	// Attribute is the file under the entry. Optional.
	Attribute string
}

// String returns the configfs path of p.
func (p *TsmPath) String() string {
	var b strings.Builder
	b.WriteString(TsmPrefix)
	b.WriteString("/")
	b.WriteString(p.Subsystem)
	if p.Entry == "" {
		return b.String()
	}
	b.WriteString("/")
	b.WriteString(p.Entry)
	if p.Attribute != "" {
		b.WriteString("/")
		b.WriteString(p.Attribute)
	}
	return b.String()
}

// WithAttribute returns a copy of p addressing the given attribute of its entry.
func (p TsmPath) WithAttribute(attribute string) TsmPath {
	p.Attribute = attribute
	return p
}

// ParseTsmPath decomposes a configfs path into its tsm components. It returns an
// error if the path is outside the tsm tree or not of the form
// subsystem[/entry[/attribute]].
func ParseTsmPath(filepath string) (*TsmPath, error) {
	rest, ok := strings.CutPrefix(filepath, TsmPrefix)
	if !ok {
		return nil, &PathError{Path: filepath, Reason: fmt.Sprintf("does not begin with %q", TsmPrefix)}
	}
	if rest != "" && rest[0] != '/' {
		return nil, &PathError{Path: filepath, Reason: fmt.Sprintf("does not begin with %q", TsmPrefix+"/")}
	}
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return nil, &PathError{Path: filepath, Reason: "does not contain a subsystem"}
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 3 {
		return nil, &PathError{Path: filepath, Reason: fmt.Sprintf("suffix %q expected to be of form subsystem[/entry[/attribute]]", rest)}
	}
	for _, part := range parts {
		if part == "" {
			return nil, &PathError{Path: filepath, Reason: fmt.Sprintf("suffix %q contains an empty component", rest)}
		}
	}
	p := &TsmPath{Subsystem: parts[0]}
	if len(parts) > 1 {
		p.Entry = parts[1]
	}
	if len(parts) > 2 {
		p.Attribute = parts[2]
	}
	return p, nil
}

// Kstrtouint interprets data as an unsigned integer the way the kernel's kstrtouint
// does, ignoring surrounding whitespace such as the trailing newline of attributes.
func Kstrtouint(data []byte, base, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(string(data)), base, bits)
}

// ReadUint64File reads the attribute at p and interprets it as a decimal uint64.
func ReadUint64File(client Client, p string) (uint64, error) {
	data, err := client.ReadFile(p)
	if err != nil {
		return 0, &IOError{Op: "read", Path: p, Err: err}
	}
	v, err := Kstrtouint(data, 10, 64)
	if err != nil {
		return 0, &ParseError{Path: p, Data: data, Err: err}
	}
	return v, nil
}

// TempName returns a new directory name that begins with pattern, for use in fake
// MkdirTemp implementations.
func TempName(pattern string) string {
	return pattern + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
