// Command agentdb loads a fleet of collections from YAML configuration,
// bulk-loads records and answers queries from the terminal.
//
// Bulk load a JSONL file and save a snapshot:
//
//	agentdb -config fleet.yaml load -collection notes -input notes.jsonl -snapshot v1
//
// Restore the snapshot and query:
//
//	agentdb -config fleet.yaml query -collection notes -restore v1 \
//	    -vector "0.1,0.2,0.3,0.4" -k 5 -filter agent=alpha
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qLeviathan/agentdb"
	"github.com/qLeviathan/agentdb/config"
	"github.com/qLeviathan/agentdb/metadata"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "agentdb:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("agentdb", flag.ContinueOnError)
	configPath := global.String("config", "fleet.yaml", "fleet configuration file")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		return fmt.Errorf("expected a subcommand: load or query")
	}

	fleet, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := agentdb.NewTextLogger(level)

	store, err := agentdb.NewFromConfig(fleet, agentdb.WithLogger(logger))
	if err != nil {
		return err
	}

	switch rest[0] {
	case "load":
		return runLoad(store, fleet, rest[1:])
	case "query":
		return runQuery(store, rest[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", rest[0])
	}
}

// record is one line of a JSONL bulk-load file.
type record struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Attrs     map[string]any `json:"attrs"`
}

func runLoad(store *agentdb.Store, fleet config.Fleet, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	coll := fs.String("collection", "", "collection to load into")
	input := fs.String("input", "", "JSONL input file")
	snapName := fs.String("snapshot", "", "save a snapshot under this name after loading")
	batch := fs.Int("batch", 256, "records per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *coll == "" || *input == "" {
		return fmt.Errorf("load requires -collection and -input")
	}

	schema, err := collectionSchema(fleet, *coll)
	if err != nil {
		return err
	}

	f, err := os.Open(*input)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()
	start := time.Now()
	loaded := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	var ops []agentdb.Op
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("line %d: %w", loaded+1, err)
		}
		attrs, err := toDocument(schema, rec.Attrs)
		if err != nil {
			return fmt.Errorf("line %d: %w", loaded+1, err)
		}
		ops = append(ops, agentdb.Op{
			Kind:      agentdb.OpInsert,
			ID:        rec.ID,
			Embedding: rec.Embedding,
			Attrs:     attrs,
		})
		if len(ops) >= *batch {
			if err := store.ApplyBatch(ctx, *coll, ops); err != nil {
				return err
			}
			loaded += len(ops)
			ops = ops[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(ops) > 0 {
		if err := store.ApplyBatch(ctx, *coll, ops); err != nil {
			return err
		}
		loaded += len(ops)
	}

	if err := store.Rebuild(ctx, *coll); err != nil {
		return err
	}
	fmt.Printf("loaded %d records into %s in %s\n", loaded, *coll, time.Since(start).Round(time.Millisecond))

	if *snapName != "" {
		if err := store.Snapshot(ctx, *coll, *snapName); err != nil {
			return err
		}
		fmt.Printf("snapshot %s/%s saved\n", *coll, *snapName)
	}
	return nil
}

func runQuery(store *agentdb.Store, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	coll := fs.String("collection", "", "collection to query")
	restore := fs.String("restore", "", "restore this snapshot before querying")
	vector := fs.String("vector", "", "comma-separated query vector")
	k := fs.Int("k", 10, "number of neighbors")
	filter := fs.String("filter", "", "field=value pairs joined by commas")
	timeout := fs.Duration("timeout", 5*time.Second, "query deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *coll == "" || *vector == "" {
		return fmt.Errorf("query requires -collection and -vector")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *restore != "" {
		if err := store.Restore(ctx, *coll, *restore); err != nil {
			return err
		}
	}

	query, err := parseVector(*vector)
	if err != nil {
		return err
	}
	filters, err := parseFilter(*filter)
	if err != nil {
		return err
	}

	results, partial, err := store.Search(ctx, *coll, query, *k, filters)
	if err != nil {
		return err
	}
	if partial {
		fmt.Println("warning: results truncated by deadline")
	}
	for i, r := range results {
		attrs, _ := json.Marshal(r.Attrs)
		fmt.Printf("%2d. %-24s score=%.4f %s\n", i+1, r.ID, r.Score, attrs)
	}
	return nil
}

func collectionSchema(fleet config.Fleet, name string) (metadata.Schema, error) {
	for i := range fleet.Collections {
		if fleet.Collections[i].Name == name {
			schema, _ := fleet.Collections[i].MetadataSchema()
			return schema, nil
		}
	}
	return nil, fmt.Errorf("collection %q not in configuration", name)
}

// toDocument maps loosely typed JSON attributes onto the declared schema.
func toDocument(schema metadata.Schema, attrs map[string]any) (metadata.Document, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	doc := make(metadata.Document, len(attrs))
	for name, raw := range attrs {
		ft, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("attribute %q not declared in schema", name)
		}
		v, err := toValue(ft, raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		doc[name] = v
	}
	return doc, nil
}

func toValue(ft metadata.FieldType, raw any) (metadata.Value, error) {
	if raw == nil {
		return metadata.Null(), nil
	}
	switch ft {
	case metadata.TypeString:
		s, ok := raw.(string)
		if !ok {
			return metadata.Value{}, fmt.Errorf("expected string, got %T", raw)
		}
		return metadata.String(s), nil
	case metadata.TypeNumber:
		f, ok := raw.(float64)
		if !ok {
			return metadata.Value{}, fmt.Errorf("expected number, got %T", raw)
		}
		return metadata.Float(f), nil
	case metadata.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return metadata.Value{}, fmt.Errorf("expected boolean, got %T", raw)
		}
		return metadata.Bool(b), nil
	case metadata.TypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return metadata.Value{}, fmt.Errorf("expected RFC 3339 string, got %T", raw)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return metadata.Value{}, err
		}
		return metadata.Time(ts), nil
	case metadata.TypeStringSet:
		elems, ok := raw.([]any)
		if !ok {
			return metadata.Value{}, fmt.Errorf("expected string array, got %T", raw)
		}
		set := make([]string, len(elems))
		for i, e := range elems {
			s, ok := e.(string)
			if !ok {
				return metadata.Value{}, fmt.Errorf("expected string element, got %T", e)
			}
			set[i] = s
		}
		return metadata.StringSet(set...), nil
	case metadata.TypeJSON:
		data, err := json.Marshal(raw)
		if err != nil {
			return metadata.Value{}, err
		}
		return metadata.JSON(data), nil
	default:
		return metadata.Value{}, fmt.Errorf("unsupported field type %q", ft)
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}

// parseFilter turns "agent=alpha,score=3" into an equality conjunction.
// Numeric values compare as numbers, everything else as strings.
func parseFilter(s string) (*metadata.FilterSet, error) {
	if s == "" {
		return nil, nil
	}
	var filters []metadata.Filter
	for _, pair := range strings.Split(s, ",") {
		field, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("filter %q is not field=value", pair)
		}
		field = strings.TrimSpace(field)
		value = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			filters = append(filters, metadata.Eq(field, metadata.Float(f)))
		} else {
			filters = append(filters, metadata.Eq(field, metadata.String(value)))
		}
	}
	return metadata.And(filters...), nil
}
