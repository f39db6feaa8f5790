// Command claimctl manages local identities and talks to a claimd
// instance.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/cidutil"
	"xdao.co/claimstore/claimrpc"
	"xdao.co/claimstore/client"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/keys"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globals are the flags accepted before the command name.
type globals struct {
	grpc    string
	ws      string
	keysDir string
	timeout time.Duration
	stdin   io.Reader
}

func (g *globals) keyStore() (*keys.Store, error) {
	return keys.Open(g.keysDir)
}

func (g *globals) dial() (*client.Client, error) {
	c, err := client.Dial(g.grpc, g.ws, claimrpc.DialOptions{})
	if err != nil {
		return nil, err
	}
	c.Timeout = g.timeout
	return c, nil
}

// identity loads name (and optionally its role) from the key store.
func (g *globals) identity(name, role string) (identity.Identity, error) {
	ks, err := g.keyStore()
	if err != nil {
		return nil, err
	}
	return ks.Load(name, role)
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	return runWith(args, os.Stdin, out, errOut)
}

func runWith(args []string, stdin io.Reader, out io.Writer, errOut io.Writer) int {
	g := &globals{stdin: stdin}
	fs := pflag.NewFlagSet("claimctl", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.SetInterspersed(false)
	fs.StringVar(&g.grpc, "grpc", "127.0.0.1:7700", "claimd gRPC address")
	fs.StringVar(&g.ws, "ws", "ws://127.0.0.1:7701/observe", "claimd WebSocket observe URL")
	fs.StringVar(&g.keysDir, "keys-dir", "", "identity directory (default ~/.xdao/claimstore/keys)")
	fs.DurationVar(&g.timeout, "timeout", 10*time.Second, "deadline for each control call")
	fs.Usage = func() { printUsage(errOut) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(errOut)
		return 2
	}

	switch rest[0] {
	case "key":
		return cmdKey(g, rest[1:], out, errOut)
	case "content-id":
		return cmdContentID(g, rest[1:], out, errOut)
	case "claim":
		return cmdClaim(g, rest[1:], out, errOut)
	case "import":
		return cmdImport(g, rest[1:], out, errOut)
	case "get":
		return cmdGet(g, rest[1:], out, errOut)
	case "latest":
		return cmdLatest(g, rest[1:], out, errOut)
	case "owner":
		return cmdOwner(g, rest[1:], out, errOut)
	case "observe":
		return cmdObserve(g, rest[1:], out, errOut)
	case "cert":
		return cmdCert(g, rest[1:], out, errOut)
	case "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", rest[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "claimctl: claim store client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  claimctl [--grpc <addr>] [--ws <url>] [--keys-dir <dir>] [--timeout <d>] <command> ...")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  key create --name <name> [--scheme ed25519|dilithium3] [--force]")
	fmt.Fprintln(w, "  key import-seed --name <name> --seed-hex <64hex> [--force]")
	fmt.Fprintln(w, "  key import-cert --name <name> --cert <pem> --key <pem> [--force]")
	fmt.Fprintln(w, "  key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  key list")
	fmt.Fprintln(w, "  content-id (--data <json> | --data-file <path|->)")
	fmt.Fprintln(w, "  claim --as <name> [--role <role>] (--data <json> | --data-file <path|->) [--grant-to <did>] [--grant-scope <link>]")
	fmt.Fprintln(w, "  import --owner <ref> --id <claimId> (--data <json> | --data-file <path|->) [--importer <ref>]")
	fmt.Fprintln(w, "  get --id <claimId> [--as <name> [--role <role>]]")
	fmt.Fprintln(w, "  latest (--owner <ref> | --as <name> [--role <role>])")
	fmt.Fprintln(w, "  owner --id <claimId>")
	fmt.Fprintln(w, "  observe [--scope <ref>] [--as <name> [--role <role>]] [--where <json>] [--count <n>]")
	fmt.Fprintln(w, "  cert register --as <name>")
	fmt.Fprintln(w, "  cert resolve --ref <ref>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - claim prints the claim id; content-id prints the CID of the canonical payload")
	fmt.Fprintln(w, "  - get and observe print canonical JSON, one value per line")
	fmt.Fprintln(w, "  - --grant-to \"\" makes the claim (or channel) public")
}

// payloadFlags binds --data and --data-file on fs.
type payloadFlags struct {
	data string
	file string
}

func (p *payloadFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&p.data, "data", "", "claim payload as JSON")
	fs.StringVar(&p.file, "data-file", "", "file holding the JSON payload (- for stdin)")
}

func (p *payloadFlags) read(stdin io.Reader) (any, error) {
	var raw []byte
	switch {
	case p.data != "" && p.file != "":
		return nil, errors.New("use only one of --data and --data-file")
	case p.data != "":
		raw = []byte(p.data)
	case p.file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case p.file != "":
		b, err := os.ReadFile(p.file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, errors.New("missing --data or --data-file")
	}
	return decodeJSON(raw)
}

// decodeJSON keeps numbers exact until canonical.Normalize sees them.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return canonical.Normalize(v)
}

func printCanonical(out io.Writer, v any) error {
	b, err := canonical.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", b)
	return err
}

// fail reports an operational error. Usage errors return 2 before
// anything is attempted.
func fail(errOut io.Writer, what string, err error) int {
	fmt.Fprintf(errOut, "%s: %v\n", what, err)
	return 1
}

func cmdContentID(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("content-id", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	var p payloadFlags
	p.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	v, err := p.read(g.stdin)
	if err != nil {
		fmt.Fprintf(errOut, "payload: %v\n", err)
		return 2
	}
	id, err := cidutil.ClaimData(v)
	if err != nil {
		return fail(errOut, "content-id", err)
	}
	fmt.Fprintln(out, id.String())
	return 0
}

func withTimeout(g *globals) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), g.timeout)
}

func requireFlag(errOut io.Writer, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(errOut, "missing --%s\n", name)
		return false
	}
	return true
}
