package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	sabi "github.com/google/go-sev-guest/abi"
	tabi "github.com/google/go-tdx-guest/abi"
	"github.com/google/go-tsm-tools/report"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Provider names the kernel reports for the guest drivers that back configfs-tsm.
const (
	tdxProvider = "tdx_guest"
	sevProvider = "sev_guest"
)

var (
	marshalOptions     = prototext.MarshalOptions{Multiline: true, EmitASCII: true}
	jsonMarshalOptions = protojson.MarshalOptions{Multiline: true}
)

// formatReport renders the out blob of resp according to --format.
func formatReport(resp *report.Response) ([]byte, error) {
	switch format {
	case formatHex:
		return []byte(hex.EncodeToString(resp.OutBlob) + "\n"), nil
	case formatBinary:
		return resp.OutBlob, nil
	}
	m, err := outBlobProto(resp)
	if err != nil {
		return nil, err
	}
	var out []byte
	if format == formatJSON {
		out, err = jsonMarshalOptions.Marshal(m)
	} else {
		out, err = marshalOptions.Marshal(m)
	}
	if err != nil {
		return nil, fmt.Errorf("formatting protobuf: %w", err)
	}
	return out, nil
}

// outBlobProto decodes the out blob with the ABI of the provider that produced it.
func outBlobProto(resp *report.Response) (proto.Message, error) {
	switch provider := strings.TrimSpace(resp.Provider); provider {
	case tdxProvider:
		quote, err := tabi.QuoteToProto(resp.OutBlob)
		if err != nil {
			return nil, fmt.Errorf("could not parse TDX quote: %w", err)
		}
		m, ok := quote.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("unsupported TDX quote type %T", quote)
		}
		return m, nil
	case sevProvider:
		r, err := sabi.ReportToProto(resp.OutBlob)
		if err != nil {
			return nil, fmt.Errorf("could not parse SEV-SNP report: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("cannot decode a report from provider %q, use --format=%s or --format=%s",
			provider, formatHex, formatBinary)
	}
}
