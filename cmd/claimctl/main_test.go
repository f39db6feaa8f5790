package main

import (
	"bytes"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"xdao.co/claimstore/cidutil"
	"xdao.co/claimstore/claimrpc"
	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/rendezvous"
	"xdao.co/claimstore/wsstream"
)

// lockedBuffer is shared between a running command and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type env struct {
	args []string
}

// newEnv serves a fresh store on loopback and returns the global flags
// that point claimctl at it and at a private key directory.
func newEnv(t *testing.T) *env {
	t.Helper()
	store := claimstore.New(claimstore.Options{})
	t.Cleanup(store.Close)
	table := rendezvous.NewTable(0, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	claimrpc.RegisterClaimsServer(srv, &claimrpc.Server{
		Store:      store,
		Rendezvous: &rendezvous.Server{Store: store, Table: table},
	})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	hs := httptest.NewServer((&wsstream.Handler{Table: table, Store: store}).Router())
	t.Cleanup(hs.Close)

	return &env{
		args: []string{
			"--grpc", lis.Addr().String(),
			"--ws", "ws" + strings.TrimPrefix(hs.URL, "http") + "/observe",
			"--keys-dir", t.TempDir(),
			"--timeout", "5s",
		},
	}
}

func (e *env) run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = runWith(append(append([]string{}, e.args...), args...), strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

// ok runs args, requires success and returns stdout without the newline.
func (e *env) ok(t *testing.T, args ...string) string {
	t.Helper()
	code, out, errOut := e.run(t, args...)
	require.Equal(t, 0, code, "claimctl %v: %s", args, errOut)
	return strings.TrimSpace(out)
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage:")

	errOut.Reset()
	assert.Equal(t, 2, run([]string{"bogus"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "unknown command: bogus")

	out.Reset()
	assert.Equal(t, 0, run([]string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "claimctl key create")
}

func TestKey_CreateDeriveList(t *testing.T) {
	e := newEnv(t)

	ref := e.ok(t, "key", "create", "--name", "alice")
	assert.True(t, strings.HasPrefix(ref, "ec:"), ref)
	pq := e.ok(t, "key", "create", "--name", "bob", "--scheme", "dilithium3")
	assert.NotEqual(t, ref, pq)

	code, _, errOut := e.run(t, "key", "create", "--name", "alice")
	assert.Equal(t, 1, code)
	assert.NotEmpty(t, errOut)

	role := e.ok(t, "key", "derive", "--from", "alice", "--role", "author")
	assert.NotEqual(t, ref, role)
	assert.Equal(t, role, e.ok(t, "key", "derive", "--from", "alice", "--role", "author", "--force"))

	list := e.ok(t, "key", "list")
	assert.Contains(t, list, "alice\t"+ref+"\troles=author")
	assert.Contains(t, list, "bob\t"+pq)
}

func TestKey_ImportSeedIsDeterministic(t *testing.T) {
	e := newEnv(t)
	seed := strings.Repeat("01", 32)
	a := e.ok(t, "key", "import-seed", "--name", "a", "--seed-hex", seed)
	b := e.ok(t, "key", "import-seed", "--name", "b", "--seed-hex", seed)
	assert.Equal(t, a, b)

	code, _, errOut := e.run(t, "key", "import-seed", "--name", "c", "--seed-hex", "zz")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "invalid --seed-hex")
}

func TestKey_RejectsBadInput(t *testing.T) {
	e := newEnv(t)
	for _, args := range [][]string{
		{"key"},
		{"key", "create"},
		{"key", "create", "--name", "../up"},
		{"key", "create", "--name", "x", "--scheme", "rsa-certificate"},
		{"key", "derive", "--from", "x"},
		{"key", "nope"},
	} {
		code, _, _ := e.run(t, args...)
		assert.Equal(t, 2, code, "args %v", args)
	}
}

func TestContentID_MatchesCanonicalPayload(t *testing.T) {
	e := newEnv(t)
	got := e.ok(t, "content-id", "--data", `{"b":2,"a":[1,"x"]}`)
	want, err := cidutil.ClaimData(map[string]any{"a": []any{1, "x"}, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, want.String(), got)

	code, _, _ := e.run(t, "content-id", "--data", `{"a":`)
	assert.Equal(t, 2, code)
	code, _, _ = e.run(t, "content-id")
	assert.Equal(t, 2, code)
}

func TestClaim_GetLatestOwner(t *testing.T) {
	e := newEnv(t)
	alice := e.ok(t, "key", "create", "--name", "alice")
	e.ok(t, "key", "create", "--name", "bob")

	first := e.ok(t, "claim", "--as", "alice", "--data", `{"need":"beer"}`)
	second := e.ok(t, "claim", "--as", "alice", "--data", `{"need":"wine"}`)

	assert.Equal(t, second, e.ok(t, "latest", "--as", "alice"))
	assert.Equal(t, second, e.ok(t, "latest", "--owner", alice))
	assert.Equal(t, alice, e.ok(t, "owner", "--id", first))

	got := e.ok(t, "get", "--id", second, "--as", "alice")
	assert.Equal(t, `{"data":{"need":"wine"},"previous":"`+first+`"}`, got)

	// Private to alice.
	code, _, errOut := e.run(t, "get", "--id", second, "--as", "bob")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not readable")
	code, _, _ = e.run(t, "get", "--id", second)
	assert.Equal(t, 1, code)

	code, _, _ = e.run(t, "latest", "--owner", alice, "--as", "alice")
	assert.Equal(t, 2, code)
	code, _, _ = e.run(t, "owner", "--id", "unknown")
	assert.Equal(t, 1, code)
}

func TestClaim_GrantOverrideMakesClaimPublic(t *testing.T) {
	e := newEnv(t)
	e.ok(t, "key", "create", "--name", "alice")

	id := e.ok(t, "claim", "--as", "alice", "--data", `{"need":"beer"}`, "--grant-to", "")
	assert.Equal(t, `{"data":{"need":"beer"}}`, e.ok(t, "get", "--id", id))
}

func TestClaim_ReadsPayloadFromFileAndStdin(t *testing.T) {
	e := newEnv(t)
	e.ok(t, "key", "create", "--name", "alice")

	path := t.TempDir() + "/payload.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"need":"tea"}`), 0o600))
	fromFile := e.ok(t, "claim", "--as", "alice", "--data-file", path)

	var out, errOut bytes.Buffer
	args := append(append([]string{}, e.args...), "claim", "--as", "alice", "--data-file", "-")
	require.Equal(t, 0, runWith(args, strings.NewReader(`{"need":"tea"}`), &out, &errOut), errOut.String())
	assert.Equal(t, fromFile, strings.TrimSpace(out.String()))
}

func TestImport_GrantsImporter(t *testing.T) {
	e := newEnv(t)
	e.ok(t, "key", "create", "--name", "alice")
	bob := e.ok(t, "key", "create", "--name", "bob")

	claimID := e.ok(t, "claim", "--as", "alice", "--data", `{"need":"beer"}`)
	owner := e.ok(t, "owner", "--id", claimID)

	// A second store sharing the key directory.
	other := newEnv(t)
	other.args[5] = e.args[5]
	imported := other.ok(t, "import", "--owner", owner, "--id", claimID, "--data", `{"need":"beer"}`, "--importer", bob)
	assert.Equal(t, claimID, imported)
	assert.Equal(t, `{"data":{"need":"beer"}}`, other.ok(t, "get", "--id", claimID, "--as", "bob"))
}

func TestCert_RegisterResolveAndClaim(t *testing.T) {
	e := newEnv(t)
	ref := e.ok(t, "key", "import-cert", "--name", "org",
		"--cert", "../../identity/testdata/cert.pem", "--key", "../../identity/testdata/key.pem")

	code, _, errOut := e.run(t, "claim", "--as", "org", "--data", `{"need":"beer"}`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "UNKNOWN_IDENTITY")

	assert.Equal(t, ref, e.ok(t, "cert", "register", "--as", "org"))
	pem := e.ok(t, "cert", "resolve", "--ref", ref)
	assert.Contains(t, pem, "BEGIN CERTIFICATE")

	claimID := e.ok(t, "claim", "--as", "org", "--data", `{"need":"beer"}`)
	assert.Equal(t, ref, e.ok(t, "owner", "--id", claimID))

	code, _, _ = e.run(t, "cert", "resolve", "--ref", "crt:unknown")
	assert.Equal(t, 1, code)
	e.ok(t, "key", "create", "--name", "plain")
	code, _, _ = e.run(t, "cert", "register", "--as", "plain")
	assert.Equal(t, 2, code)
}

func TestObserve_PrintsMatchingRecords(t *testing.T) {
	e := newEnv(t)
	alice := e.ok(t, "key", "create", "--name", "alice")

	var out, errOut lockedBuffer
	done := make(chan int, 1)
	args := append(append([]string{}, e.args...),
		"observe", "--scope", alice, "--as", "alice", "--where", `{"need":"wine"}`, "--count", "1")
	go func() { done <- runWith(args, strings.NewReader(""), &out, &errOut) }()

	require.Eventually(t, func() bool { return strings.Contains(errOut.String(), "observing") },
		5*time.Second, 10*time.Millisecond, "observe never became ready: %s", errOut.String())

	e.ok(t, "claim", "--as", "alice", "--data", `{"need":"beer"}`)
	wine := e.ok(t, "claim", "--as", "alice", "--data", `{"need":"wine"}`)

	select {
	case code := <-done:
		require.Equal(t, 0, code, errOut.String())
	case <-time.After(5 * time.Second):
		t.Fatal("observe did not exit after one record")
	}
	line := strings.TrimSpace(out.String())
	assert.Contains(t, line, `"claimId":"`+wine+`"`)
	assert.Contains(t, line, `"ownerRef":"`+alice+`"`)
	assert.Contains(t, line, `"data":{"need":"wine"}`)
}

func TestObserve_RejectsNonObjectPredicate(t *testing.T) {
	e := newEnv(t)
	bob := e.ok(t, "key", "create", "--name", "bob")

	code, _, errOut := e.run(t, "observe", "--scope", bob, "--where", `[1]`)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "not a JSON object")
}
