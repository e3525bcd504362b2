package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/pkg/circuitbreaker"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Fetcher pulls raw bytes for a FromDef::Format step:
// uri (HTTP GET with auth injected), file (local path), api (handled
// inline — Fetch is never called for it).
type Fetcher struct {
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewFetcher(httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{httpClient: httpClient, breaker: breaker}
}

// Fetch retrieves the raw bytes a Source describes.
func (f *Fetcher) Fetch(ctx context.Context, src entities.SourceConfig) ([]byte, error) {
	switch src.Type {
	case entities.SourceFile:
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, rerrors.Unknown("failed to read source file", err)
		}
		return data, nil
	case entities.SourceURI:
		return f.fetchURI(ctx, src)
	case entities.SourceAPI:
		return nil, rerrors.Validation("api sources are handled inline and never fetched")
	default:
		return nil, rerrors.Validation("unknown source type")
	}
}

func (f *Fetcher) fetchURI(ctx context.Context, src entities.SourceConfig) ([]byte, error) {
	var body []byte
	err := f.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URI, nil)
		if err != nil {
			return rerrors.Unknown("failed to build source request", err)
		}
		applyAuth(req, src.Auth)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return rerrors.Unknown("source fetch failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return rerrors.Unknown(fmt.Sprintf("source fetch returned status %d", resp.StatusCode), nil)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return rerrors.Unknown("failed to read source response", err)
		}
		body = data
		return nil
	})
	return body, err
}

// Pusher pushes produced bytes to a Destination
type Pusher struct {
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewPusher(httpClient *http.Client, breaker *circuitbreaker.CircuitBreaker) *Pusher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Pusher{httpClient: httpClient, breaker: breaker}
}

// Push sends data to dest using its configured HTTP method and auth.
func (p *Pusher) Push(ctx context.Context, dest entities.DestinationConfig, data []byte) error {
	return p.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, string(dest.Method), dest.URI, bytes.NewReader(data))
		if err != nil {
			return rerrors.Unknown("failed to build destination request", err)
		}
		applyAuth(req, dest.Auth)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return rerrors.Unknown("destination push failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return rerrors.Unknown(fmt.Sprintf("destination push returned status %d", resp.StatusCode), nil)
		}
		return nil
	})
}

// applyAuth injects credentials into req per the AuthConfig variant
//.
func applyAuth(req *http.Request, auth entities.AuthConfig) {
	switch auth.Kind {
	case entities.AuthAPIKey:
		req.Header.Set(auth.Header, auth.Key)
	case entities.AuthBasic:
		req.SetBasicAuth(auth.User, auth.Pass)
	case entities.AuthPreSharedKey:
		switch auth.Location {
		case "header":
			req.Header.Set(auth.Field, auth.Key)
		case "query":
			q := req.URL.Query()
			q.Set(auth.Field, auth.Key)
			req.URL.RawQuery = q.Encode()
		case "body":
			// body-location pre-shared keys are not applied here, and
			// neither Fetch nor Push adds them to the request body, so
			// such requests are sent without the key.
		}
	}
}

// Decode parses raw bytes into a slice of normalized rows per a
// FormatConfig.
func Decode(cfg entities.FormatConfig, data []byte) ([]Record, error) {
	switch cfg.Type {
	case entities.FormatCSV:
		return decodeCSV(cfg, data)
	case entities.FormatJSON:
		return decodeJSON(cfg, data)
	default:
		return nil, rerrors.Validation("unknown format type")
	}
}

func decodeCSV(cfg entities.FormatConfig, data []byte) ([]Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	if cfg.Delimiter != "" {
		r.Comma = rune(cfg.Delimiter[0])
	}
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, rerrors.Validation("failed to parse csv: " + err.Error())
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var headers []string
	startIdx := 0
	if cfg.HasHeader {
		headers = rows[0]
		startIdx = 1
	} else {
		headers = make([]string, len(rows[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i)
		}
	}

	out := make([]Record, 0, len(rows)-startIdx)
	for _, row := range rows[startIdx:] {
		rec := make(Record, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeJSON(cfg entities.FormatConfig, data []byte) ([]Record, error) {
	if cfg.NDJSON {
		var out []Record
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var rec Record
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, rerrors.Validation("failed to parse ndjson line: " + err.Error())
			}
			out = append(out, rec)
		}
		return out, nil
	}

	var arr []Record
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr, nil
	}

	var single Record
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, rerrors.Validation("failed to parse json: " + err.Error())
	}
	return []Record{single}, nil
}

// Encode serializes rows per a FormatConfig, for a ToDef::Format step.
func Encode(cfg entities.FormatConfig, rows []Record) ([]byte, error) {
	switch cfg.Type {
	case entities.FormatCSV:
		return encodeCSV(cfg, rows)
	case entities.FormatJSON:
		return encodeJSON(cfg, rows)
	default:
		return nil, rerrors.Validation("unknown format type")
	}
}

func encodeCSV(cfg entities.FormatConfig, rows []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if cfg.Delimiter != "" {
		w.Comma = rune(cfg.Delimiter[0])
	}

	if len(rows) == 0 {
		w.Flush()
		return buf.Bytes(), nil
	}

	headers := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		headers = append(headers, k)
	}
	if cfg.HasHeader {
		if err := w.Write(headers); err != nil {
			return nil, rerrors.Unknown("failed to write csv header", err)
		}
	}
	for _, rec := range rows {
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = fmt.Sprintf("%v", rec[h])
		}
		if err := w.Write(row); err != nil {
			return nil, rerrors.Unknown("failed to write csv row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, rerrors.Unknown("failed to flush csv writer", err)
	}
	return buf.Bytes(), nil
}

func encodeJSON(cfg entities.FormatConfig, rows []Record) ([]byte, error) {
	if cfg.NDJSON {
		var buf bytes.Buffer
		for _, rec := range rows {
			line, err := json.Marshal(rec)
			if err != nil {
				return nil, rerrors.Unknown("failed to encode ndjson row", err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, rerrors.Unknown("failed to encode json", err)
	}
	return data, nil
}
