package detection

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"sol-beast/internal/runtime"
	"sol-beast/internal/solana"
)

// Enrichment stages.
const (
	StageOnChain  = "onchain_metadata"
	StageOffChain = "offchain_metadata"
	StageCurve    = "bonding_curve"
)

// EnrichmentError is a best-effort lookup failure. It never aborts a
// detection.
type EnrichmentError struct {
	Stage string
	Err   error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s: %v", e.Stage, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Metadata is what could be learned about a token's presentation.
type Metadata struct {
	Name        string
	Symbol      string
	URI         string
	Image       string
	Description string
}

const (
	metadataKeyV1    = 4
	maxOffchainBytes = 1 << 20
)

// MetadataFetcher loads Metaplex metadata on chain and then the JSON
// document its URI points at.
type MetadataFetcher struct {
	caller solana.Caller
	client *http.Client
	runner runtime.Runner
}

// NewMetadataFetcher creates a fetcher. A nil client gets a 10s timeout.
func NewMetadataFetcher(caller solana.Caller, client *http.Client, runner runtime.Runner) *MetadataFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if runner == nil {
		runner = runtime.NewThreaded(nil)
	}
	return &MetadataFetcher{caller: caller, client: client, runner: runner}
}

// Fetch returns whatever metadata was found. A non-nil error is always an
// *EnrichmentError, and the returned Metadata may still be partially filled.
func (f *MetadataFetcher) Fetch(ctx context.Context, mint, metadataProgram string) (*Metadata, error) {
	addr, err := MetadataAddress(mint, metadataProgram)
	if err != nil {
		return &Metadata{}, &EnrichmentError{Stage: StageOnChain, Err: err}
	}

	var info *solana.AccountInfo
	err = f.runner.Await(ctx, func(ctx context.Context) error {
		var callErr error
		info, callErr = solana.GetAccountInfo(ctx, f.caller, addr)
		return callErr
	})
	if err != nil {
		return &Metadata{}, &EnrichmentError{Stage: StageOnChain, Err: err}
	}
	if info == nil {
		return &Metadata{}, &EnrichmentError{Stage: StageOnChain, Err: fmt.Errorf("metadata account %s not found", addr)}
	}

	meta, err := ParseOnChainMetadata(info.Data)
	if err != nil {
		return &Metadata{}, &EnrichmentError{Stage: StageOnChain, Err: err}
	}

	if !strings.HasPrefix(meta.URI, "http://") && !strings.HasPrefix(meta.URI, "https://") {
		return meta, nil
	}

	var off *Metadata
	err = f.runner.Await(ctx, func(ctx context.Context) error {
		var fetchErr error
		off, fetchErr = f.fetchOffChain(ctx, meta.URI)
		return fetchErr
	})
	if err != nil {
		return meta, &EnrichmentError{Stage: StageOffChain, Err: err}
	}

	// off-chain values win where present
	if off.Name != "" {
		meta.Name = off.Name
	}
	if off.Symbol != "" {
		meta.Symbol = off.Symbol
	}
	meta.Image = off.Image
	meta.Description = off.Description
	return meta, nil
}

func (f *MetadataFetcher) fetchOffChain(ctx context.Context, uri string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOffchainBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return ParseOffChainMetadata(body)
}

// ParseOnChainMetadata decodes the leading fields of a Metaplex metadata
// account: key, update authority, mint, then borsh strings name, symbol
// and uri.
func ParseOnChainMetadata(data []byte) (*Metadata, error) {
	if len(data) < 1+32+32 {
		return nil, fmt.Errorf("metadata account too short: %d bytes", len(data))
	}
	if data[0] != metadataKeyV1 {
		return nil, fmt.Errorf("unexpected metadata key %d", data[0])
	}

	offset := 1 + 32 + 32
	read := func(field string, max int) (string, error) {
		if offset+4 > len(data) {
			return "", fmt.Errorf("metadata %s: truncated length", field)
		}
		n := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if n > max || offset+n > len(data) {
			return "", fmt.Errorf("metadata %s: invalid length %d", field, n)
		}
		s := strings.TrimRight(string(data[offset:offset+n]), "\x00")
		offset += n
		return strings.TrimSpace(s), nil
	}

	name, err := read("name", 100)
	if err != nil {
		return nil, err
	}
	symbol, err := read("symbol", 20)
	if err != nil {
		return nil, err
	}
	uri, err := read("uri", 400)
	if err != nil {
		return nil, err
	}
	return &Metadata{Name: name, Symbol: symbol, URI: uri}, nil
}

// ParseOffChainMetadata reads a token JSON document, accepting the common
// alternative key names.
func ParseOffChainMetadata(body []byte) (*Metadata, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse metadata json: %w", err)
	}
	if doc == nil {
		return nil, errors.New("metadata json is not an object")
	}

	meta := &Metadata{
		Name:   firstString(doc, "name", "title", "token_name"),
		Symbol: firstString(doc, "symbol", "ticker"),
		Image:  firstString(doc, "image", "image_url", "imageUri"),
	}
	if d, ok := doc["description"].(string); ok {
		meta.Description = strings.TrimSpace(d)
	}
	return meta, nil
}

// firstString returns the first usable value among keys. Localized objects
// prefer "en", arrays yield their first string.
func firstString(doc map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := doc[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			return strings.TrimSpace(val)
		case map[string]interface{}:
			if en, ok := val["en"].(string); ok {
				return strings.TrimSpace(en)
			}
			names := make([]string, 0, len(val))
			for k := range val {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				if s, ok := val[k].(string); ok {
					return strings.TrimSpace(s)
				}
			}
		case []interface{}:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok {
					return strings.TrimSpace(s)
				}
			}
		default:
			b, _ := json.Marshal(val)
			return string(b)
		}
	}
	return ""
}
