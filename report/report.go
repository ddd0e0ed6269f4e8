// Package report provides an API to the configfs/tsm/report subsystem for collecting
// attestation reports and associated blobs.
package report

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/google/go-tsm-tools/configfs/configfsi"
	"github.com/google/logger"
	"go.uber.org/multierr"
)

const (
	subsystem     = "report"
	subsystemPath = configfsi.TsmPrefix + "/" + subsystem
	// entryPrefix begins the name of every report entry this package creates.
	entryPrefix = "entry"
)

// Privilege represents the requested privilege information at which a report should
// be created.
type Privilege struct {
	Level uint
}

// Request represents an open request for an attestation report.
type Request struct {
	InBlob     []byte
	Privilege  *Privilege
	GetAuxBlob bool
	// The service fields select a service provider such as an SVSM. Each is only
	// written when non-empty.
	ServiceProvider        string
	ServiceGuid            string
	ServiceManifestVersion string
}

// Response represents a common case response for getting an attestation report to
// avoid multiple attribute access calls.
type Response struct {
	Provider string
	OutBlob  []byte
	// AuxBlob is nil unless requested.
	AuxBlob []byte
	// ManifestBlob is nil unless a service provider was requested.
	ManifestBlob []byte
}

// OpenReport represents a created tsm report subtree with internal expectations for
// the generation.
type OpenReport struct {
	InBlob                 []byte
	Privilege              *Privilege
	GetAuxBlob             bool
	ServiceProvider        string
	ServiceGuid            string
	ServiceManifestVersion string

	entry              *configfsi.TsmPath
	expectedGeneration uint64
	client             configfsi.Client
}

// GenerationError is returned when the kernel's generation for a report differs from
// the generation the OpenReport expects, meaning another writer changed the entry.
// The OpenReport must be abandoned; a new one may be created to retry.
type GenerationError struct {
	Got       uint64
	Want      uint64
	Attribute string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("report generation was %d when expecting %d while reading property %q",
		e.Got, e.Want, e.Attribute)
}

func (r *OpenReport) attribute(subtree string) string {
	a := r.entry.WithAttribute(subtree)
	return a.String()
}

// Entry returns the configfs path of the report entry.
func (r *OpenReport) Entry() string {
	return r.entry.String()
}

// ExpectedGeneration returns the generation the kernel should report for the entry
// given every write this OpenReport has performed.
func (r *OpenReport) ExpectedGeneration() uint64 {
	return r.expectedGeneration
}

// UnsafeWrap returns an OpenReport bound to an existing report entry, with the
// entry's current generation as the expected generation. It is unsafe in that any
// writes made to the entry before wrapping are trusted.
func UnsafeWrap(client configfsi.Client, entryPath string) (*OpenReport, error) {
	p, err := configfsi.ParseTsmPath(entryPath)
	if err != nil {
		return nil, err
	}
	if p.Subsystem != subsystem || p.Entry == "" {
		return nil, &configfsi.PathError{Path: entryPath, Reason: "does not name a report entry"}
	}
	r := &OpenReport{
		client: client,
		entry:  &configfsi.TsmPath{Subsystem: subsystem, Entry: p.Entry},
	}
	r.expectedGeneration, err = configfsi.ReadUint64File(client, r.attribute("generation"))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateOpenReport returns a newly-created entry in the configfs-tsm report subtree
// with an initial expected generation value.
func CreateOpenReport(client configfsi.Client) (*OpenReport, error) {
	entry, err := client.MkdirTemp(subsystemPath, entryPrefix)
	if err != nil {
		return nil, fmt.Errorf("could not create report entry in configfs: %w",
			&configfsi.IOError{Op: "mkdir", Path: subsystemPath, Err: err})
	}
	logger.V(1).Infof("created report entry %s", entry)
	r, err := UnsafeWrap(client, entry)
	if err != nil {
		// The report was created but couldn't be properly initialized.
		return nil, multierr.Combine(err, client.RemoveAll(entry))
	}
	return r, nil
}

// Create returns a newly-created entry in the configfs-tsm report subtree with common
// inputs for the Get() method initialized from the request.
func Create(client configfsi.Client, req *Request) (*OpenReport, error) {
	r, err := CreateOpenReport(client)
	if err != nil {
		return nil, err
	}
	r.InBlob = req.InBlob // InBlob is not a copy!
	r.Privilege = req.Privilege
	r.GetAuxBlob = req.GetAuxBlob
	r.ServiceProvider = req.ServiceProvider
	r.ServiceGuid = req.ServiceGuid
	r.ServiceManifestVersion = req.ServiceManifestVersion
	return r, nil
}

// Destroy removes the report entry from configfs. Will not error for already
// destroyed reports. Get does not call Destroy: entries are transient kernel
// allocations and are left behind unless the caller reclaims them.
func (r *OpenReport) Destroy() error {
	if r.entry != nil {
		if err := r.client.RemoveAll(r.entry.String()); err != nil {
			return &configfsi.IOError{Op: "remove", Path: r.entry.String(), Err: err}
		}
		r.entry = nil
	}
	return nil
}

// WriteOption sets a configfs report option to the provided data and internally
// tracks the generation that should be expected on the next ReadOption.
func (r *OpenReport) WriteOption(subtree string, data []byte) error {
	p := r.attribute(subtree)
	if err := r.client.WriteFile(p, data); err != nil {
		return fmt.Errorf("could not write report %s: %w", subtree, &configfsi.IOError{Op: "write", Path: p, Err: err})
	}
	r.expectedGeneration++
	return nil
}

func (r *OpenReport) checkGeneration(subtree string) error {
	got, err := configfsi.ReadUint64File(r.client, r.attribute("generation"))
	if err != nil {
		return err
	}
	if got != r.expectedGeneration {
		return &GenerationError{Got: got, Want: r.expectedGeneration, Attribute: subtree}
	}
	return nil
}

// ReadOption is a safe accessor to a readable attribute of a report. The generation
// is checked both before and after the attribute is read, and any difference from the
// expected generation is returned as a *GenerationError.
func (r *OpenReport) ReadOption(subtree string) ([]byte, error) {
	if err := r.checkGeneration(subtree); err != nil {
		return nil, err
	}
	p := r.attribute(subtree)
	data, err := r.client.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("could not read report property %q: %w", subtree,
			&configfsi.IOError{Op: "read", Path: p, Err: err})
	}
	if err := r.checkGeneration(subtree); err != nil {
		return nil, err
	}
	return data, nil
}

// PrivilegeLevelFloor returns the privlevel_floor attribute interpreted as the int
// type it is.
func (r *OpenReport) PrivilegeLevelFloor() (uint, error) {
	data, err := r.ReadOption("privlevel_floor")
	if err != nil {
		return 0, err
	}
	i, err := configfsi.Kstrtouint(data, 10, 32)
	if err != nil {
		return 0, &configfsi.ParseError{Path: r.attribute("privlevel_floor"), Data: data, Err: err}
	}
	return uint(i), nil
}

// Get returns the requested report data after initializing the context to the
// expected parameters. Returns an error if the kernel reports an error or there is a
// difference in expected generation value.
func (r *OpenReport) Get() (*Response, error) {
	var err error
	if err := r.WriteOption("inblob", r.InBlob); err != nil {
		return nil, err
	}
	if r.Privilege != nil {
		if err := r.WriteOption("privlevel", []byte(strconv.FormatUint(uint64(r.Privilege.Level), 10))); err != nil {
			return nil, err
		}
	}
	for _, opt := range []struct{ subtree, value string }{
		{"service_provider", r.ServiceProvider},
		{"service_guid", r.ServiceGuid},
		{"service_manifest_version", r.ServiceManifestVersion},
	} {
		if opt.value == "" {
			continue
		}
		if err := r.WriteOption(opt.subtree, []byte(opt.value)); err != nil {
			return nil, err
		}
	}
	resp := &Response{}
	if r.GetAuxBlob {
		resp.AuxBlob, err = r.ReadOption("auxblob")
		if err != nil {
			return nil, fmt.Errorf("could not read report auxblob: %w", err)
		}
	}
	resp.OutBlob, err = r.ReadOption("outblob")
	if err != nil {
		return nil, fmt.Errorf("could not read report outblob: %w", err)
	}
	providerData, err := r.ReadOption("provider")
	if err != nil {
		return nil, err
	}
	// An undecodable provider name is dropped rather than failing the report.
	if utf8.Valid(providerData) {
		resp.Provider = string(providerData)
	}
	if r.ServiceProvider != "" {
		resp.ManifestBlob, err = r.ReadOption("manifestblob")
		if err != nil {
			return nil, fmt.Errorf("could not read report manifestblob: %w", err)
		}
	}
	return resp, nil
}

// Get returns a one-shot configfs-tsm report given a report request. The report
// entry is left in configfs.
func Get(client configfsi.Client, req *Request) (*Response, error) {
	r, err := Create(client, req)
	if err != nil {
		return nil, err
	}
	return r.Get()
}
