// Command mup1cc is a host-side conversion tool: it
// translates between human-editable YAML/JSON and the wire-format CBOR a
// device understands, using a resolved YANG schema tree to drive the
// translation (internal/cbor), and can emit the draft-07 JSON Schema for
// a schema node.
//
// Flag handling uses the stdlib flag package (usage banner naming the
// binary and its subcommands) rather than a third-party CLI framework.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/hwkim3330/velocitydrivesp-support/internal/cbor"
	"github.com/hwkim3330/velocitydrivesp-support/internal/config"
	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
	"github.com/hwkim3330/velocitydrivesp-support/internal/yang/cache"
)

func main() {
	// config.Parse looks for mup1cc.yml next to the executable (then
	// /etc) and applies its logger settings; its absence is not fatal
	// here since this tool takes its schema and cache settings from flags
	// only, never reads the returned Config, and never opens a carrier.
	if _, err := config.Parse(); err != nil {
		logging.Debugf("mup1cc: no config file, using flag defaults: %v", err)
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "conv":
		return runConv(args[1:])
	case "schema":
		return runSchema(args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "mup1cc: unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: mup1cc <command> [flags]

commands:
  conv    convert a YANG-modeled document between yaml/json/cbor
  schema  emit the draft-07 JSON Schema for a YANG node`)
}

// contentFormat maps the CLI token to the internal/cbor enum.
func contentFormat(s string) (cbor.ContentFormat, error) {
	switch s {
	case "", "yang":
		return cbor.FormatYang, nil
	case "get":
		return cbor.FormatGet, nil
	case "put":
		return cbor.FormatPut, nil
	case "fetch":
		return cbor.FormatFetch, nil
	case "ipatch":
		return cbor.FormatIPatch, nil
	case "post":
		return cbor.FormatPost, nil
	default:
		return 0, fmt.Errorf("mup1cc: unknown --content %q", s)
	}
}

// schemaFlags are the flags shared by conv and schema for locating and
// resolving the target schema node.
type schemaFlags struct {
	yangPath string
	sidPaths stringList
	cacheDir string
	node     string
	content  string
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (sf *schemaFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&sf.yangPath, "yang", "", "path to a pre-resolved YANG schema document (JSON, SIDs attached)")
	fs.Var(&sf.sidPaths, "sid", "path to a .sid file contributing to the cache key (repeatable)")
	fs.StringVar(&sf.cacheDir, "cache-dir", "", "schema cache directory (default: next to --yang)")
	fs.StringVar(&sf.node, "node", "", "slash-separated path from the schema root to the target node")
	fs.StringVar(&sf.content, "content", "yang", "content format: yang|get|put|fetch|ipatch|post")
}

// resolve loads (or fetches from cache) the schema tree and walks down to
// the node named by --node.
func (sf *schemaFlags) resolve() (*yang.Tree, *yang.Node, cbor.ContentFormat, error) {
	if sf.yangPath == "" {
		return nil, nil, 0, fmt.Errorf("mup1cc: --yang is required")
	}
	cf, err := contentFormat(sf.content)
	if err != nil {
		return nil, nil, 0, err
	}

	tree, err := sf.loadTree()
	if err != nil {
		return nil, nil, 0, err
	}

	node := tree.Root()
	if sf.node != "" {
		node = tree.ResolveSchemaPath(tree.Root(), splitPath(sf.node))
		if node == nil {
			return nil, nil, 0, fmt.Errorf("mup1cc: node %q not found under schema root", sf.node)
		}
	}
	return tree, node, cf, nil
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		out = append(out, p[start:])
	}
	return out
}

// loadTree fetches the schema from the on-disk cache keyed by --yang
// plus every --sid path, rebuilding and storing on a miss.
func (sf *schemaFlags) loadTree() (*yang.Tree, error) {
	dir := sf.cacheDir
	if dir == "" {
		dir = sf.yangPath + ".cache"
	}
	c := cache.New(dir)

	inputs := append([]string{sf.yangPath}, sf.sidPaths...)
	key, err := cache.Key(inputs)
	if err != nil {
		return nil, err
	}

	if tree, err := c.Load(key); err != nil {
		logging.Warnf("mup1cc: schema cache load failed, rebuilding: %v", err)
	} else if tree != nil {
		logging.Debugf("mup1cc: schema cache hit for %s", sf.yangPath)
		return tree, nil
	}

	tree, err := yang.LoadFile(sf.yangPath)
	if err != nil {
		return nil, fmt.Errorf("mup1cc: load schema: %w", err)
	}
	if err := c.Store(key, tree); err != nil {
		logging.Warnf("mup1cc: schema cache store failed: %v", err)
	}
	return tree, nil
}

func runSchema(args []string) int {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	sf := &schemaFlags{}
	sf.register(fs)
	out := fs.String("out", "-", "output path, - for stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	tree, node, cf, err := sf.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	s := cbor.EmitSchema(tree, node, cf)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "mup1cc: marshal schema:", err)
		return 1
	}
	data = append(data, '\n')

	if err := writeOutput(*out, data); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runConv(args []string) int {
	fs := flag.NewFlagSet("conv", flag.ContinueOnError)
	sf := &schemaFlags{}
	sf.register(fs)
	inFmt := fs.String("input", "yaml", "input format: yaml|json|cbor")
	outFmt := fs.String("output", "json", "output format: yaml|json|cbor")
	in := fs.String("in", "-", "input path, - for stdin")
	out := fs.String("out", "-", "output path, - for stdout")
	continueOnError := fs.Bool("continue-on-error", false, "warn instead of failing on recoverable schema/codec errors")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	tree, node, cf, err := sf.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	raw, err := readInput(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	codec := cbor.New(tree, *continueOnError)

	value, err := decodeInput(codec, node, raw, *inFmt, cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mup1cc:", err)
		return 1
	}

	data, err := encodeOutput(codec, node, value, *outFmt, cf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mup1cc:", err)
		return 1
	}

	if err := writeOutput(*out, data); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// decodeInput reads the source document into the schema-driven codec's
// internal JSON-shaped Go value. yaml/json are parsed into map[string]
// interface{}/[]interface{} trees directly; cbor is run through the
// schema decoder, which already produces that same shape.
func decodeInput(c *cbor.Codec, node *yang.Node, raw []byte, format string, cf cbor.ContentFormat) (interface{}, error) {
	switch format {
	case "yaml":
		var v interface{}
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse yaml input: %w", err)
		}
		return normalizeYAML(v), nil
	case "json":
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse json input: %w", err)
		}
		return v, nil
	case "cbor":
		return c.DecodeBody(node, raw, cf)
	default:
		return nil, fmt.Errorf("unknown --input %q", format)
	}
}

// encodeOutput renders the schema-driven codec's JSON-shaped Go value as
// the requested output format; cbor goes through the schema encoder, the
// other two are a direct marshal since the value is already JSON-shaped.
func encodeOutput(c *cbor.Codec, node *yang.Node, value interface{}, format string, cf cbor.ContentFormat) ([]byte, error) {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal yaml output: %w", err)
		}
		return data, nil
	case "json":
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal json output: %w", err)
		}
		return append(data, '\n'), nil
	case "cbor":
		data, err := c.EncodeBody(node, value, cf)
		if err != nil {
			return nil, fmt.Errorf("encode cbor output: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown --output %q", format)
	}
}

// normalizeYAML converts gopkg.in/yaml.v2's map[interface{}]interface{}
// decode shape into map[string]interface{} recursively, since the codec
// (internal/cbor) only recognizes the latter, matching encoding/json's
// native decode shape.
func normalizeYAML(v interface{}) interface{} {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return x
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
