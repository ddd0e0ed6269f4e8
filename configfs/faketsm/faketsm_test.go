package faketsm

import (
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-tsm-tools/configfs/configfsi"
)

const (
	reportRoot = configfsi.TsmPrefix + "/report"
	rtmrRoot   = configfsi.TsmPrefix + "/rtmr"
)

func TestClientRoutesBySubsystem(t *testing.T) {
	c := Default()
	entry, err := c.MkdirTemp(reportRoot, "entry")
	if err != nil {
		t.Fatalf("MkdirTemp(%q) = _, %v", reportRoot, err)
	}
	if !strings.HasPrefix(entry, reportRoot+"/entry") {
		t.Errorf("MkdirTemp(%q) = %q, want a report entry", reportRoot, entry)
	}
	if _, err := c.MkdirTemp(configfsi.TsmPrefix+"/nope", "x"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("MkdirTemp on unknown subsystem = _, %v. Want os.ErrNotExist", err)
	}
	if _, err := c.ReadFile("/elsewhere"); !errors.Is(err, configfsi.ErrInvalidInput) {
		t.Errorf("ReadFile outside the tsm tree = _, %v. Want ErrInvalidInput", err)
	}
}

func TestReportGeneration(t *testing.T) {
	r := Report()
	r.InitialGeneration = 5
	c := &Client{Subsystems: map[string]configfsi.Client{"report": r}}
	entry, err := c.MkdirTemp(reportRoot, "entry")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteFile(entry+"/inblob", []byte("hi")); err != nil {
		t.Fatalf("WriteFile(inblob) = %v", err)
	}
	if err := c.WriteFile(entry+"/outblob", []byte("no")); !errors.Is(err, syscall.EACCES) {
		t.Errorf("WriteFile(outblob) = %v. Want EACCES", err)
	}
	gen, err := c.ReadFile(entry + "/generation")
	if err != nil {
		t.Fatal(err)
	}
	if string(gen) != "6\n" {
		t.Errorf("generation = %q, want %q", gen, "6\n")
	}
	out, err := c.ReadFile(entry + "/outblob")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(string(out), "report:hi"); diff != "" {
		t.Errorf("outblob diff (-got +want):\n%s", diff)
	}
	e, err := r.Entry(entry)
	if err != nil {
		t.Fatalf("Entry(%q) = _, %v", entry, err)
	}
	if diff := cmp.Diff(e.Reads, []string{"generation", "outblob"}); diff != "" {
		t.Errorf("Reads diff (-got +want):\n%s", diff)
	}
	if err := c.RemoveAll(entry); err != nil {
		t.Fatalf("RemoveAll(%q) = %v", entry, err)
	}
	if _, err := c.ReadFile(entry + "/generation"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile after RemoveAll = _, %v. Want os.ErrNotExist", err)
	}
}

func TestRtmrEntries(t *testing.T) {
	r := Rtmr()
	r.Extendable = []int{2, 3}
	c := &Client{Subsystems: map[string]configfsi.Client{"rtmr": r}}
	entry, err := c.MkdirTemp(rtmrRoot, "rtmr1-")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadFile(entry + "/index"); !errors.Is(err, syscall.ENXIO) {
		t.Errorf("ReadFile(index) before init = _, %v. Want ENXIO", err)
	}
	digest := make([]byte, 48)
	if err := c.WriteFile(entry+"/digest", digest); !errors.Is(err, syscall.ENXIO) {
		t.Errorf("WriteFile(digest) before init = %v. Want ENXIO", err)
	}
	if err := c.WriteFile(entry+"/index", []byte("1")); err != nil {
		t.Fatalf("WriteFile(index) = %v", err)
	}
	if err := c.WriteFile(entry+"/index", []byte("2")); !errors.Is(err, syscall.EBUSY) {
		t.Errorf("WriteFile(index) rebind = %v. Want EBUSY", err)
	}
	if err := c.WriteFile(entry+"/digest", digest); !errors.Is(err, syscall.EPERM) {
		t.Errorf("WriteFile(digest) to rtmr1 = %v. Want EPERM", err)
	}
	if err := c.WriteFile(entry+"/digest", digest[:47]); !errors.Is(err, syscall.EINVAL) {
		t.Errorf("WriteFile(short digest) = %v. Want EINVAL", err)
	}
	entries, err := c.ReadDir(rtmrRoot)
	if err != nil {
		t.Fatalf("ReadDir(%q) = _, %v", rtmrRoot, err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Errorf("ReadDir(%q) = %v, want one directory", rtmrRoot, entries)
	}
	if got := r.EntriesFor(1); len(got) != 1 {
		t.Errorf("EntriesFor(1) = %v, want one entry", got)
	}
}
