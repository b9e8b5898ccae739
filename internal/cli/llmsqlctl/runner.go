package llmsqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   []byte
	// output receives the raw response body instead of stdout when set.
	output string
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("llmsqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "LLMSQL API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 3*time.Minute), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	var (
		c   call
		err error
	)
	switch command {
	case "health":
		c, err = healthCall(rest)
	case "ready":
		c = call{method: http.MethodGet, path: "/v1/ready"}
	case "compare":
		c, err = compareCall(rest, stderr)
	case "records":
		c, err = recordsCall(rest, stderr)
	case "record":
		if len(rest) != 1 {
			err = fmt.Errorf("record requires exactly one record id")
			break
		}
		c = call{method: http.MethodGet, path: "/v1/records/" + url.PathEscape(rest[0])}
	case "schema":
		if len(rest) != 1 {
			err = fmt.Errorf("schema requires exactly one database id")
			break
		}
		c = call{method: http.MethodGet, path: "/v1/schema/" + url.PathEscape(rest[0])}
	case "export":
		c, err = exportCall(rest, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", command, err)
		}
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + c.path
	code, responseBody, err := doRequest(ctx, client, c.method, endpoint, *apiKey, c.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if c.output != "" {
		if err := os.WriteFile(c.output, responseBody, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "write %s: %v\n", c.output, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "wrote %d bytes to %s\n", len(responseBody), c.output)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func healthCall(args []string) (call, error) {
	switch {
	case len(args) == 0:
		return call{method: http.MethodGet, path: "/v1/health"}, nil
	case len(args) == 2 && args[0] == "database":
		return call{method: http.MethodGet, path: "/v1/health/databases/" + url.PathEscape(args[1])}, nil
	case len(args) == 2 && args[0] == "model":
		return call{method: http.MethodGet, path: "/v1/health/models/" + url.PathEscape(args[1])}, nil
	default:
		return call{}, fmt.Errorf("usage: health [database <id> | model <id>]")
	}
}

func compareCall(args []string, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	models := fs.String("models", "", "comma-separated model ids (default: all)")
	databases := fs.String("databases", "", "comma-separated database ids (default: all)")
	schemaFile := fs.String("schema-csv", "", "schema sheet CSV sent as schema_info")
	expected := fs.String("expected-sql", "", "gold SQL stored with the record")
	if err := fs.Parse(args); err != nil {
		return call{}, err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return call{}, fmt.Errorf("a question is required")
	}

	payload := map[string]any{"text": text}
	if list := splitList(*models); len(list) > 0 {
		payload["models"] = list
	}
	if list := splitList(*databases); len(list) > 0 {
		payload["databases"] = list
	}
	if *schemaFile != "" {
		raw, err := os.ReadFile(*schemaFile)
		if err != nil {
			return call{}, fmt.Errorf("read schema csv: %w", err)
		}
		payload["schema_info"] = string(raw)
	}
	if strings.TrimSpace(*expected) != "" {
		payload["expected_sql"] = strings.TrimSpace(*expected)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return call{}, err
	}
	return call{method: http.MethodPost, path: "/v1/text-to-sql", body: body}, nil
}

func recordsCall(args []string, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	fs.SetOutput(stderr)
	values, err := parseFilterFlags(fs, args)
	if err != nil {
		return call{}, err
	}
	path := "/v1/records"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return call{method: http.MethodGet, path: path}, nil
}

func exportCall(args []string, stderr io.Writer) (call, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("o", "llmsql-records.parquet", "output parquet file")
	values, err := parseFilterFlags(fs, args)
	if err != nil {
		return call{}, err
	}
	path := "/v1/records/export"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return call{method: http.MethodGet, path: path, output: *output}, nil
}

func parseFilterFlags(fs *flag.FlagSet, args []string) (url.Values, error) {
	model := fs.String("model", "", "only records that ran this model")
	database := fs.String("database", "", "only records that targeted this database")
	since := fs.String("since", "", "only records created at or after this RFC3339 time")
	limit := fs.Int("limit", 0, "maximum number of records")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	values := url.Values{}
	if *model != "" {
		values.Set("model", *model)
	}
	if *database != "" {
		values.Set("database", *database)
	}
	if *since != "" {
		values.Set("since", *since)
	}
	if *limit > 0 {
		values.Set("limit", strconv.Itoa(*limit))
	}
	return values, nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: llmsqlctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health [database <id> | model <id>]   GET /v1/health[...]")
	_, _ = fmt.Fprintln(w, "  ready                                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  compare [-models] [-databases] <text> POST /v1/text-to-sql")
	_, _ = fmt.Fprintln(w, "  records [-model] [-database] [-since] [-limit]")
	_, _ = fmt.Fprintln(w, "                                        GET /v1/records")
	_, _ = fmt.Fprintln(w, "  record <id>                           GET /v1/records/{id}")
	_, _ = fmt.Fprintln(w, "  schema <database>                     GET /v1/schema/{database}")
	_, _ = fmt.Fprintln(w, "  export [-o file] [filters]            GET /v1/records/export")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
