package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/keys"
)

func cmdKey(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "create":
		return cmdKeyCreate(g, args[1:], out, errOut)
	case "import-seed":
		return cmdKeyImportSeed(g, args[1:], out, errOut)
	case "import-cert":
		return cmdKeyImportCert(g, args[1:], out, errOut)
	case "derive":
		return cmdKeyDerive(g, args[1:], out, errOut)
	case "list":
		return cmdKeyList(g, args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "claimctl key: local identity management")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  claimctl key create --name <name> [--scheme ed25519|dilithium3] [--force]")
	fmt.Fprintln(w, "  claimctl key import-seed --name <name> --seed-hex <64hex> [--force]")
	fmt.Fprintln(w, "  claimctl key import-cert --name <name> --cert <pem> --key <pem> [--force]")
	fmt.Fprintln(w, "  claimctl key derive --from <name> --role <role> [--force]")
	fmt.Fprintln(w, "  claimctl key list")
}

// checkName validates --name before the key store is touched.
func checkName(errOut io.Writer, flag, name string) bool {
	if !requireFlag(errOut, flag, name) {
		return false
	}
	if err := keys.CheckName(name); err != nil {
		fmt.Fprintf(errOut, "invalid --%s: %v\n", flag, err)
		return false
	}
	return true
}

func cmdKeyCreate(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("key create", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "identity name")
	scheme := fs.String("scheme", string(identity.SchemeEd25519), "ed25519 or dilithium3")
	force := fs.Bool("force", false, "overwrite an existing identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !checkName(errOut, "name", *name) {
		return 2
	}
	switch identity.Scheme(*scheme) {
	case identity.SchemeEd25519, identity.SchemeDilithium:
	default:
		fmt.Fprintf(errOut, "invalid --scheme: %q\n", *scheme)
		return 2
	}

	ks, err := g.keyStore()
	if err != nil {
		return fail(errOut, "keys", err)
	}
	id, err := ks.Create(*name, identity.Scheme(*scheme), *force)
	if err != nil {
		return fail(errOut, "create", err)
	}
	fmt.Fprintln(out, id.Reference())
	return 0
}

func cmdKeyImportSeed(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("key import-seed", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "identity name")
	seedHex := fs.String("seed-hex", "", "ed25519 seed as 64 hex chars")
	force := fs.Bool("force", false, "overwrite an existing identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !checkName(errOut, "name", *name) || !requireFlag(errOut, "seed-hex", *seedHex) {
		return 2
	}
	seed, err := keys.ParseSeedHex(*seedHex)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
		return 2
	}

	ks, err := g.keyStore()
	if err != nil {
		return fail(errOut, "keys", err)
	}
	id, err := ks.ImportSeed(*name, seed, *force)
	if err != nil {
		return fail(errOut, "import", err)
	}
	fmt.Fprintln(out, id.Reference())
	return 0
}

func cmdKeyImportCert(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("key import-cert", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	name := fs.String("name", "", "identity name")
	certPath := fs.String("cert", "", "PEM certificate")
	keyPath := fs.String("key", "", "PEM RSA private key")
	force := fs.Bool("force", false, "overwrite an existing identity")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !checkName(errOut, "name", *name) || !requireFlag(errOut, "cert", *certPath) || !requireFlag(errOut, "key", *keyPath) {
		return 2
	}
	certPEM, err := os.ReadFile(*certPath)
	if err != nil {
		return fail(errOut, "read --cert", err)
	}
	keyPEM, err := os.ReadFile(*keyPath)
	if err != nil {
		return fail(errOut, "read --key", err)
	}

	ks, err := g.keyStore()
	if err != nil {
		return fail(errOut, "keys", err)
	}
	id, err := ks.ImportCertificate(*name, certPEM, keyPEM, *force)
	if err != nil {
		return fail(errOut, "import", err)
	}
	fmt.Fprintln(out, id.Reference())
	return 0
}

func cmdKeyDerive(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("key derive", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	from := fs.String("from", "", "ed25519 identity to derive from")
	role := fs.String("role", "", "role identifier (e.g. author, reviewer)")
	force := fs.Bool("force", false, "overwrite an existing role key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !checkName(errOut, "from", *from) || !requireFlag(errOut, "role", *role) {
		return 2
	}
	if err := keys.CheckRole(*role); err != nil {
		fmt.Fprintf(errOut, "invalid --role: %v\n", err)
		return 2
	}

	ks, err := g.keyStore()
	if err != nil {
		return fail(errOut, "keys", err)
	}
	id, err := ks.DeriveRole(*from, *role, *force)
	if err != nil {
		return fail(errOut, "derive", err)
	}
	fmt.Fprintln(out, id.Reference())
	return 0
}

func cmdKeyList(g *globals, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("key list", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := g.keyStore()
	if err != nil {
		return fail(errOut, "keys", err)
	}
	entries, err := ks.List()
	if err != nil {
		return fail(errOut, "list", err)
	}
	for _, e := range entries {
		ref := e.Reference
		if ref == "" {
			ref = "-"
		}
		line := e.Name + "\t" + ref
		if len(e.Roles) > 0 {
			line += "\troles=" + strings.Join(e.Roles, ",")
		}
		fmt.Fprintln(out, line)
	}
	return 0
}
