// The observer binary is a read-only report tool for a running engine. It
// talks only to the status API over HTTP and renders what it gets; it can
// never mutate engine state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type section struct {
	name string
	path string
}

// Sections in render order. Every endpoint is a GET on the engine's
// read-only API surface.
var sections = []section{
	{"Status", "/api/v1/status"},
	{"FSM", "/api/v1/fsm"},
	{"FSM Transitions", "/api/v1/fsm/transitions"},
	{"Regime", "/api/v1/state/regime"},
	{"Exposure", "/api/v1/state/exposure"},
	{"Cognitive", "/api/v1/state/cognitive"},
	{"Gate", "/api/v1/gate"},
	{"Positions", "/api/v1/positions"},
	{"Trades", "/api/v1/trades"},
	{"Recent Signals", "/api/v1/signals/recent"},
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8081", "engine status API base URL")
	format := flag.String("format", "markdown", "output format: markdown or json")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	client := resty.New().
		SetBaseURL(*addr).
		SetTimeout(*timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, err := collect(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "observer: %v\n", err)
		os.Exit(1)
	}

	switch *format {
	case "json":
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "observer: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	case "markdown":
		fmt.Print(renderMarkdown(report))
	default:
		fmt.Fprintf(os.Stderr, "observer: unknown format %q\n", *format)
		os.Exit(2)
	}
}

// collect fetches every section. A single unreachable engine is an error;
// an individual failed section is reported inline so a partial engine still
// yields a partial report.
func collect(ctx context.Context, client *resty.Client) (map[string]json.RawMessage, error) {
	report := make(map[string]json.RawMessage, len(sections))
	reachable := false
	for _, s := range sections {
		resp, err := client.R().SetContext(ctx).Get(s.path)
		if err != nil {
			report[s.name] = errJSON(err.Error())
			continue
		}
		reachable = true
		if resp.StatusCode() != http.StatusOK {
			report[s.name] = errJSON(fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()))
			continue
		}
		report[s.name] = json.RawMessage(resp.Body())
	}
	if !reachable {
		return nil, fmt.Errorf("engine unreachable at %s", client.BaseURL)
	}
	return report, nil
}

func errJSON(msg string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": msg})
	return out
}

func renderMarkdown(report map[string]json.RawMessage) string {
	var sb strings.Builder
	sb.WriteString("# Vigil Engine Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated %s\n", time.Now().UTC().Format(time.RFC3339)))

	for _, s := range sections {
		raw, ok := report[s.name]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n## %s\n\n", s.name))
		sb.WriteString(renderValue(raw))
	}
	return sb.String()
}

// renderValue renders a JSON payload as a flat markdown key table, one level
// deep. Arrays render as fenced JSON; nested objects are flattened with a
// dotted prefix.
func renderValue(raw json.RawMessage) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fencedJSON(raw)
	}
	flat := map[string]string{}
	flatten("", obj, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("| Field | Value |\n|---|---|\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", k, flat[k]))
	}
	return sb.String()
}

func flatten(prefix string, obj map[string]interface{}, out map[string]string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]interface{}:
			flatten(key, t, out)
		case []interface{}:
			enc, _ := json.Marshal(t)
			out[key] = shorten(string(enc))
		case float64:
			out[key] = formatFloat(t)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprintf("%v", t)
		}
	}
}

// formatFloat trims float noise: integers render without a decimal point.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.4f", f)
}

func shorten(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func fencedJSON(raw json.RawMessage) string {
	var buf strings.Builder
	var pretty json.RawMessage
	if out, err := json.MarshalIndent(json.RawMessage(raw), "", "  "); err == nil {
		pretty = out
	} else {
		pretty = raw
	}
	buf.WriteString("```json\n")
	buf.Write(pretty)
	buf.WriteString("\n```\n")
	return buf.String()
}
