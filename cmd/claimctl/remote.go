package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/identity"
)

// signer binds --as and --role.
type signer struct {
	name string
	role string
}

func (s *signer) bind(fs *pflag.FlagSet, usage string) {
	fs.StringVar(&s.name, "as", "", usage)
	fs.StringVar(&s.role, "role", "", "role identity derived from --as")
}

func (s *signer) set() bool { return s.name != "" }

func (s *signer) load(g *globals) (identity.Identity, error) {
	return g.identity(s.name, s.role)
}

func cmdClaim(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("claim", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	var who signer
	who.bind(fs, "identity that owns the claim")
	var p payloadFlags
	p.bind(fs)
	grantTo := fs.String("grant-to", "", "grant read access to this did (empty grants everyone)")
	grantScope := fs.String("grant-scope", "", "limit the grant to this claim link")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(errOut, "as", who.name) {
		return 2
	}
	payload, err := p.read(g.stdin)
	if err != nil {
		fmt.Fprintf(errOut, "payload: %v\n", err)
		return 2
	}
	var override *claimstore.AccessGrant
	if fs.Changed("grant-to") || fs.Changed("grant-scope") {
		override = &claimstore.AccessGrant{DID: *grantTo, Scope: *grantScope}
	}

	id, err := who.load(g)
	if err != nil {
		return fail(errOut, "identity", err)
	}
	sig, err := id.Sign(payload)
	if err != nil {
		return fail(errOut, "sign", err)
	}

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	claimID, err := c.Claim(context.Background(), id.Reference(), sig, payload, override)
	if err != nil {
		return fail(errOut, "claim", err)
	}
	fmt.Fprintln(out, claimID)
	return 0
}

func cmdImport(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("import", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	owner := fs.String("owner", "", "reference or did of the original owner")
	claimID := fs.String("id", "", "original claim id or link")
	importer := fs.String("importer", "", "reference granted access (empty makes the claim public)")
	var p payloadFlags
	p.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(errOut, "owner", *owner) || !requireFlag(errOut, "id", *claimID) {
		return 2
	}
	payload, err := p.read(g.stdin)
	if err != nil {
		fmt.Fprintf(errOut, "payload: %v\n", err)
		return 2
	}

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	id, err := c.Import(context.Background(), *owner, *claimID, payload, *importer)
	if err != nil {
		return fail(errOut, "import", err)
	}
	fmt.Fprintln(out, id)
	return 0
}

func cmdGet(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("get", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	claimID := fs.String("id", "", "claim id")
	var who signer
	who.bind(fs, "read as this identity (anonymous when unset)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(errOut, "id", *claimID) {
		return 2
	}

	var ref, sig string
	if who.set() {
		id, err := who.load(g)
		if err != nil {
			return fail(errOut, "identity", err)
		}
		if sig, err = id.Sign(*claimID); err != nil {
			return fail(errOut, "sign", err)
		}
		ref = id.Reference()
	}

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	view, err := c.Get(context.Background(), *claimID, ref, sig)
	if err != nil {
		return fail(errOut, "get", err)
	}
	if view == nil {
		fmt.Fprintln(errOut, "claim not found or not readable")
		return 1
	}
	if err := printCanonical(out, view); err != nil {
		return fail(errOut, "print", err)
	}
	return 0
}

func cmdLatest(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("latest", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	owner := fs.String("owner", "", "owner reference")
	var who signer
	who.bind(fs, "use the reference of this stored identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*owner == "") == !who.set() {
		fmt.Fprintln(errOut, "use exactly one of --owner and --as")
		return 2
	}
	if who.set() {
		id, err := who.load(g)
		if err != nil {
			return fail(errOut, "identity", err)
		}
		*owner = id.Reference()
	}

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	claimID, err := c.GetLatest(context.Background(), *owner)
	if err != nil {
		return fail(errOut, "latest", err)
	}
	if claimID == "" {
		fmt.Fprintln(errOut, "no claims")
		return 1
	}
	fmt.Fprintln(out, claimID)
	return 0
}

func cmdOwner(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("owner", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	claimID := fs.String("id", "", "claim id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !requireFlag(errOut, "id", *claimID) {
		return 2
	}

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	ref, err := c.GetOwner(context.Background(), *claimID)
	if err != nil {
		return fail(errOut, "owner", err)
	}
	if ref == "" {
		fmt.Fprintln(errOut, "unknown claim")
		return 1
	}
	fmt.Fprintln(out, ref)
	return 0
}

func cmdObserve(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("observe", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	scope := fs.String("scope", "", "owner reference to observe (all channels when unset)")
	where := fs.String("where", "", "JSON object every delivered claim must contain")
	count := fs.Int("count", 0, "exit after this many records (0 runs until interrupted)")
	var who signer
	who.bind(fs, "observe as this identity (anonymous when unset)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *count < 0 {
		fmt.Fprintln(errOut, "--count must not be negative")
		return 2
	}

	req := claimstore.ObserveRequest{Scope: *scope}
	if *where != "" {
		v, err := decodeJSON([]byte(*where))
		if err != nil {
			fmt.Fprintf(errOut, "invalid --where: %v\n", err)
			return 2
		}
		pred, ok := v.(map[string]any)
		if !ok {
			fmt.Fprintln(errOut, "invalid --where: not a JSON object")
			return 2
		}
		req.Predicate = pred
	}
	if who.set() {
		id, err := who.load(g)
		if err != nil {
			return fail(errOut, "identity", err)
		}
		message := *scope
		if message == "" {
			message = "null"
		}
		sig, err := id.Sign(message)
		if err != nil {
			return fail(errOut, "sign", err)
		}
		req.AccessorRef, req.AccessorSignature = id.Reference(), sig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, err := g.dial()
	if err != nil {
		return fail(errOut, "dial", err)
	}
	defer c.Close()
	sub, err := c.Observe(ctx, req)
	if err != nil {
		return fail(errOut, "observe", err)
	}
	defer sub.Close()

	wctx, cancel := withTimeout(g)
	err = sub.Wait(wctx)
	cancel()
	if err != nil {
		return fail(errOut, "observe", err)
	}
	fmt.Fprintf(errOut, "observing (nonce %s)\n", sub.Nonce())

	seen := 0
	for rec := range sub.Records() {
		if err := printCanonical(out, rec.ToWire()); err != nil {
			return fail(errOut, "print", err)
		}
		seen++
		if *count > 0 && seen >= *count {
			return 0
		}
	}
	if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fail(errOut, "observe", err)
	}
	return 0
}

func cmdCert(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: claimctl cert <register|resolve> ...")
		return 2
	}
	switch args[0] {
	case "register":
		fs := pflag.NewFlagSet("cert register", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		name := fs.String("as", "", "stored certificate identity to register")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(errOut, "as", *name) {
			return 2
		}
		id, err := g.identity(*name, "")
		if err != nil {
			return fail(errOut, "identity", err)
		}
		cert, ok := id.(*identity.CertificateIdentity)
		if !ok {
			fmt.Fprintf(errOut, "%s is not a certificate identity\n", *name)
			return 2
		}
		c, err := g.dial()
		if err != nil {
			return fail(errOut, "dial", err)
		}
		defer c.Close()
		if err := c.RegisterCertificate(context.Background(), cert.Reference(), cert.CertificatePEM()); err != nil {
			return fail(errOut, "register", err)
		}
		fmt.Fprintln(out, cert.Reference())
		return 0
	case "resolve":
		fs := pflag.NewFlagSet("cert resolve", pflag.ContinueOnError)
		fs.SetOutput(errOut)
		ref := fs.String("ref", "", "certificate reference")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if !requireFlag(errOut, "ref", *ref) {
			return 2
		}
		c, err := g.dial()
		if err != nil {
			return fail(errOut, "dial", err)
		}
		defer c.Close()
		pem, err := c.ResolveCertificate(context.Background(), *ref)
		if err != nil {
			return fail(errOut, "resolve", err)
		}
		if pem == nil {
			fmt.Fprintln(errOut, "certificate not registered")
			return 1
		}
		_, _ = out.Write(pem)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown cert subcommand: %s\n", args[0])
		return 2
	}
}
