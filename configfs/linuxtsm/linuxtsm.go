// Package linuxtsm implements configfsi.Client over the Linux configfs mount.
package linuxtsm

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/google/go-tsm-tools/configfs/configfsi"
	"github.com/spf13/afero"
)

// attributeMode is the mode used if a write has to create the file. configfs-tsm
// attributes already exist and are frequently write-only.
const attributeMode = 0220

// Client accesses configfs-tsm through an afero filesystem.
type Client struct {
	fs afero.Fs
}

// NewClient returns a Client that performs all operations on fsys. Paths passed to
// the client are always full configfs paths beginning with configfsi.TsmPrefix.
func NewClient(fsys afero.Fs) *Client {
	return &Client{fs: fsys}
}

// MakeClient returns a Client for the host's configfs-tsm, or an error if the tsm
// tree is not mounted.
func MakeClient() (*Client, error) {
	return makeClient(afero.NewOsFs())
}

// MakeClientAt returns a Client whose tsm tree lives under root rather than /. This
// is useful to run against a directory fixture or from outside a guest's chroot.
func MakeClientAt(root string) (*Client, error) {
	if root == "" || root == "/" {
		return MakeClient()
	}
	return makeClient(afero.NewBasePathFs(afero.NewOsFs(), root))
}

func makeClient(fsys afero.Fs) (*Client, error) {
	info, err := fsys.Stat(configfsi.TsmPrefix)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("expected %s to be a directory", configfsi.TsmPrefix)
	}
	return NewClient(fsys), nil
}

// MkdirTemp creates a uniquely named directory beginning with pattern under dir.
func (c *Client) MkdirTemp(dir, pattern string) (string, error) {
	return afero.TempDir(c.fs, dir, pattern)
}

// ReadFile reads the contents of name.
func (c *Client) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(c.fs, name)
}

// WriteFile writes contents to name. The file is opened write-only since the kernel
// does not permit reading most input attributes back.
func (c *Client) WriteFile(name string, contents []byte) error {
	f, err := c.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, attributeMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RemoveAll removes path and its children.
func (c *Client) RemoveAll(path string) error {
	return c.fs.RemoveAll(path)
}

// ReadDir returns the entries of dirname sorted by name.
func (c *Client) ReadDir(dirname string) ([]fs.DirEntry, error) {
	infos, err := afero.ReadDir(c.fs, dirname)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

var _ configfsi.Client = (*Client)(nil)
