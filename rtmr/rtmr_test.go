package rtmr

import (
	"bytes"
	"crypto"
	"errors"
	"os"
	"path"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-tsm-tools/configfs/configfsi"
	"github.com/google/go-tsm-tools/configfs/faketsm"
)

func fakeClient() (*faketsm.Client, *faketsm.RtmrSubsystem) {
	r := faketsm.Rtmr()
	return &faketsm.Client{Subsystems: map[string]configfsi.Client{"rtmr": r}}, r
}

func digestOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, DigestSize)
}

func TestDigestSizeIsSHA384(t *testing.T) {
	if DigestSize != crypto.SHA384.Size() {
		t.Errorf("DigestSize = %d, want the SHA-384 size %d", DigestSize, crypto.SHA384.Size())
	}
}

func TestExtendDigestPreconditions(t *testing.T) {
	client, fake := fakeClient()
	tcs := []struct {
		name   string
		index  int
		digest []byte
		want   error
	}{
		{name: "short digest", index: 0, digest: make([]byte, 47), want: &InvalidDigestLengthError{Expected: 48, Actual: 47}},
		{name: "sha256 digest", index: 2, digest: make([]byte, 32), want: &InvalidDigestLengthError{Expected: 48, Actual: 32}},
		{name: "negative index", index: -1, digest: make([]byte, 48), want: &InvalidIndexError{Index: -1}},
		// The digest length is checked first.
		{name: "both invalid", index: -1, digest: nil, want: &InvalidDigestLengthError{Expected: 48, Actual: 0}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := ExtendDigest(client, tc.index, tc.digest)
			if diff := cmp.Diff(err, tc.want); diff != "" {
				t.Errorf("ExtendDigest() error diff (-got +want):\n%s", diff)
			}
		})
	}
	if len(fake.Entries) != 0 {
		t.Errorf("invalid ExtendDigest calls created entries: %v", fake.Entries)
	}
}

func TestExtendDigestTypedErrors(t *testing.T) {
	client, _ := fakeClient()
	var lerr *InvalidDigestLengthError
	if err := ExtendDigest(client, 0, make([]byte, 47)); !errors.As(err, &lerr) || lerr.Expected != 48 || lerr.Actual != 47 {
		t.Errorf("ExtendDigest(0, 47 bytes) = %v. Want InvalidDigestLengthError{48, 47}", err)
	}
	var ierr *InvalidIndexError
	if err := ExtendDigest(client, -1, make([]byte, 48)); !errors.As(err, &ierr) || ierr.Index != -1 {
		t.Errorf("ExtendDigest(-1, 48 bytes) = %v. Want InvalidIndexError{-1}", err)
	}
}

func TestExtendDigestReusesEntry(t *testing.T) {
	client, fake := fakeClient()
	if err := ExtendDigest(client, 2, digestOf(1)); err != nil {
		t.Fatalf("ExtendDigest(2) = %v", err)
	}
	if err := ExtendDigest(client, 2, digestOf(2)); err != nil {
		t.Fatalf("second ExtendDigest(2) = %v", err)
	}
	names := fake.EntriesFor(2)
	if len(names) != 1 {
		t.Fatalf("rtmr2 is backed by entries %v, want exactly one", names)
	}
	if len(fake.Entries) != 1 {
		t.Errorf("ExtendDigest created %d entries, want 1", len(fake.Entries))
	}
	got := fake.Entries[names[0]].Digests
	if diff := cmp.Diff(got, [][]byte{digestOf(1), digestOf(2)}); diff != "" {
		t.Errorf("digests written diff (-got +want):\n%s", diff)
	}
}

func TestExtendDigestEntryPerIndex(t *testing.T) {
	client, fake := fakeClient()
	for _, index := range []int{3, 2, 3, 0} {
		if err := ExtendDigest(client, index, digestOf(byte(index))); err != nil {
			t.Fatalf("ExtendDigest(%d) = %v", index, err)
		}
	}
	if len(fake.Entries) != 3 {
		t.Errorf("ExtendDigest created %d entries, want 3", len(fake.Entries))
	}
	for _, index := range []int{0, 2, 3} {
		names := fake.EntriesFor(index)
		if len(names) != 1 {
			t.Errorf("rtmr%d is backed by entries %v, want exactly one", index, names)
		}
	}
	if n := len(fake.Entries[fake.EntriesFor(3)[0]].Digests); n != 2 {
		t.Errorf("rtmr3 received %d digests, want 2", n)
	}
}

func TestExtendDigestFindsExistingEntry(t *testing.T) {
	client, fake := fakeClient()
	for _, index := range []string{"0", "1", "3"} {
		dir, err := client.MkdirTemp(subsystemPath, "preexisting")
		if err != nil {
			t.Fatal(err)
		}
		if err := client.WriteFile(dir+"/index", []byte(index)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ExtendDigest(client, 3, digestOf(9)); err != nil {
		t.Fatalf("ExtendDigest(3) = %v", err)
	}
	if len(fake.Entries) != 3 {
		t.Errorf("ExtendDigest created a new entry despite an existing one: %v", fake.Entries)
	}
	e := fake.Entries[fake.EntriesFor(3)[0]]
	if diff := cmp.Diff(e.Digests, [][]byte{digestOf(9)}); diff != "" {
		t.Errorf("digests written diff (-got +want):\n%s", diff)
	}
}

func TestCreatedEntryNameEmbedsIndex(t *testing.T) {
	client, fake := fakeClient()
	if err := ExtendDigest(client, 2, digestOf(0)); err != nil {
		t.Fatal(err)
	}
	if name := fake.EntriesFor(2)[0]; !strings.HasPrefix(name, "rtmr2-") {
		t.Errorf("created entry %q does not begin with %q", name, "rtmr2-")
	}
}

func TestExtendDigestKernelErrors(t *testing.T) {
	client, fake := fakeClient()
	fake.Extendable = []int{2, 3}
	err := ExtendDigest(client, 0, digestOf(0))
	var ioerr *configfsi.IOError
	if !errors.As(err, &ioerr) || ioerr.Op != "write" {
		t.Fatalf("ExtendDigest(0) = %v. Want IOError on write", err)
	}
	if !errors.Is(err, syscall.EPERM) {
		t.Errorf("ExtendDigest(0) = %v. Want EPERM", err)
	}
}

func TestExtendDigestMissingSubsystem(t *testing.T) {
	client := &faketsm.Client{Subsystems: map[string]configfsi.Client{}}
	err := ExtendDigest(client, 2, digestOf(0))
	var ioerr *configfsi.IOError
	if !errors.As(err, &ioerr) || ioerr.Op != "readdir" || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ExtendDigest() = %v. Want IOError on readdir wrapping os.ErrNotExist", err)
	}
}

func TestExtendDigestUnreadableIndex(t *testing.T) {
	client, _ := fakeClient()
	// An entry whose index was never written cannot be compared.
	if _, err := client.MkdirTemp(subsystemPath, "partial"); err != nil {
		t.Fatal(err)
	}
	err := ExtendDigest(client, 2, digestOf(0))
	if !errors.Is(err, syscall.ENXIO) {
		t.Errorf("ExtendDigest() = %v. Want ENXIO from the partial entry", err)
	}
}

// indexWriteFailer fails the first write to an rtmr index attribute.
type indexWriteFailer struct {
	*faketsm.Client
	failed bool
}

func (c *indexWriteFailer) WriteFile(name string, contents []byte) error {
	if !c.failed && path.Base(name) == tsmPathIndex {
		c.failed = true
		return syscall.EIO
	}
	return c.Client.WriteFile(name, contents)
}

func TestExtendDigestRemovesEntryWithoutIndex(t *testing.T) {
	inner, fake := fakeClient()
	client := &indexWriteFailer{Client: inner}
	if err := ExtendDigest(client, 2, digestOf(1)); !errors.Is(err, syscall.EIO) {
		t.Fatalf("ExtendDigest(2) = %v. Want EIO from the index write", err)
	}
	if len(fake.Entries) != 0 {
		t.Errorf("entries after failed index write = %d, want 0", len(fake.Entries))
	}
	if err := ExtendDigest(client, 3, digestOf(2)); err != nil {
		t.Fatalf("ExtendDigest(3) after failed create = %v", err)
	}
	if got := fake.EntriesFor(3); len(got) != 1 {
		t.Errorf("EntriesFor(3) = %v, want one entry", got)
	}
	if err := ExtendDigest(client, 2, digestOf(3)); err != nil {
		t.Errorf("ExtendDigest(2) retry = %v", err)
	}
}
