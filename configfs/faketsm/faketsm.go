// Package faketsm defines a configfsi.Client that models the kernel side of the
// configfs-tsm report and rtmr subsystems in memory.
package faketsm

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/google/go-tsm-tools/configfs/configfsi"
)

// Client routes every operation to the fake subsystem named by the path.
type Client struct {
	Subsystems map[string]configfsi.Client
}

func (c *Client) subsystem(name string) (configfsi.Client, error) {
	p, err := configfsi.ParseTsmPath(name)
	if err != nil {
		return nil, err
	}
	s, ok := c.Subsystems[p.Subsystem]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return s, nil
}

// MkdirTemp implements configfsi.Client.
func (c *Client) MkdirTemp(dir, pattern string) (string, error) {
	s, err := c.subsystem(dir)
	if err != nil {
		return "", err
	}
	return s.MkdirTemp(dir, pattern)
}

// ReadFile implements configfsi.Client.
func (c *Client) ReadFile(name string) ([]byte, error) {
	s, err := c.subsystem(name)
	if err != nil {
		return nil, err
	}
	return s.ReadFile(name)
}

// WriteFile implements configfsi.Client.
func (c *Client) WriteFile(name string, contents []byte) error {
	s, err := c.subsystem(name)
	if err != nil {
		return err
	}
	return s.WriteFile(name, contents)
}

// RemoveAll implements configfsi.Client.
func (c *Client) RemoveAll(path string) error {
	s, err := c.subsystem(path)
	if err != nil {
		return err
	}
	return s.RemoveAll(path)
}

// ReadDir implements configfsi.Client.
func (c *Client) ReadDir(dirname string) ([]fs.DirEntry, error) {
	s, err := c.subsystem(dirname)
	if err != nil {
		return nil, err
	}
	return s.ReadDir(dirname)
}

// Default returns a Client with fresh report and rtmr subsystems.
func Default() *Client {
	return &Client{Subsystems: map[string]configfsi.Client{
		"report": Report(),
		"rtmr":   Rtmr(),
	}}
}

// entryPath splits a subsystem-level path for the entry and attribute operations
// every fake subsystem shares.
func entryPath(op, name string) (*configfsi.TsmPath, error) {
	p, err := configfsi.ParseTsmPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func listEntries(dirname string, names []string) ([]fs.DirEntry, error) {
	p, err := entryPath("ReadDir", dirname)
	if err != nil {
		return nil, err
	}
	if p.Entry != "" {
		return nil, fmt.Errorf("ReadDir %s: %w", dirname, syscall.ENOTDIR)
	}
	entries := make([]fs.DirEntry, len(names))
	for i, name := range names {
		entries[i] = dirEntry(name)
	}
	return entries, nil
}

// dirEntry is a directory listed by a fake subsystem.
type dirEntry string

func (d dirEntry) Name() string               { return string(d) }
func (d dirEntry) IsDir() bool                { return true }
func (d dirEntry) Type() fs.FileMode          { return fs.ModeDir }
func (d dirEntry) Info() (fs.FileInfo, error) { return d, nil }
func (d dirEntry) Size() int64                { return 0 }
func (d dirEntry) Mode() fs.FileMode          { return fs.ModeDir | 0755 }
func (d dirEntry) ModTime() time.Time         { return time.Time{} }
func (d dirEntry) Sys() any                   { return nil }
