package shell

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
)

type fakeStatuses []governor.Status

func (f fakeStatuses) Statuses() []governor.Status { return f }

func (f fakeStatuses) Status(cpu int) (governor.Status, bool) {
	for _, st := range f {
		if st.CPU == cpu {
			return st, true
		}
	}
	return governor.Status{}, false
}

func testSource() fakeStatuses {
	return fakeStatuses{
		{
			CPU: 0, State: "active", LastFreq: 2_000_000, TargetFreq: 2_000_000, Utilization: 37,
			Patterns: []predict.Pattern{{ID: 4, Weight: 77, AvgUtil: 60, TargetFreq: 2_400_000}},
		},
		{CPU: 1, State: "stopped", LastFreq: 800_000},
	}
}

func newTestServer(t *testing.T, opts Options) *Server {
	if opts.HostKeyPath == "" {
		opts.HostKeyPath = filepath.Join(t.TempDir(), "host_key")
	}
	s, err := NewServer(testSource(), "1.0.0-test", opts, testr.New(t))
	require.NoError(t, err)
	return s
}

func TestExecute(t *testing.T) {
	s := newTestServer(t, Options{})

	for _, tc := range []struct {
		line     string
		contains string
		done     bool
	}{
		{"show version", "1.0.0-test", false},
		{"show cores", "stopped", false},
		{"  show core 0 ", "2000000 kHz", false},
		{"show patterns 0", "77", false},
		{"show patterns 1", "no patterns learned", false},
		{"show core 9", "cpu 9 not managed", false},
		{"show core x", "invalid cpu", false},
		{"show", "missing argument", false},
		{"reboot", "unknown command", false},
		{"help", "show patterns <cpu>", false},
		{"exit", "bye", true},
	} {
		out, done := s.Execute(tc.line)
		assert.Contains(t, out, tc.contains, tc.line)
		assert.Equal(t, tc.done, done, tc.line)
	}

	out, done := s.Execute("   ")
	assert.Empty(t, out)
	assert.False(t, done)
}

func TestHostKeyPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	newTestServer(t, Options{HostKeyPath: path})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "RSA PRIVATE KEY")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// второй запуск загружает тот же ключ
	newTestServer(t, Options{HostKeyPath: path})
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func serve(t *testing.T, s *Server) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("ssh server did not stop")
		}
	})
	return listener.Addr().String()
}

func dial(t *testing.T, addr string, auth ...ssh.AuthMethod) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "operator",
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestServer_Exec(t *testing.T) {
	addr := serve(t, newTestServer(t, Options{}))

	client, err := dial(t, addr)
	require.NoError(t, err)
	defer client.Close()

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()
	out, err := session.Output("show cores")
	require.NoError(t, err)
	assert.Contains(t, string(out), "CPU")
	assert.Contains(t, string(out), "active")
}

func TestServer_Shell(t *testing.T) {
	addr := serve(t, newTestServer(t, Options{}))

	client, err := dial(t, addr)
	require.NoError(t, err)
	defer client.Close()

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()
	stdin, err := session.StdinPipe()
	require.NoError(t, err)
	stdout, err := session.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, session.Shell())

	_, err = stdin.Write([]byte("show version\rexit\r\n"))
	require.NoError(t, err)

	var lines []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	require.NoError(t, session.Wait())
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "1.0.0-test")
	assert.Contains(t, joined, "bye")
}

func TestServer_AuthorizedKeys(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)

	keys := filepath.Join(t.TempDir(), "authorized_keys")
	require.NoError(t, os.WriteFile(keys, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0o600))

	addr := serve(t, newTestServer(t, Options{AuthorizedKeysPath: keys}))

	client, err := dial(t, addr, ssh.PublicKeys(signer))
	require.NoError(t, err)
	client.Close()

	_, err = dial(t, addr, ssh.PublicKeys(other))
	assert.Error(t, err)

	_, err = NewServer(testSource(), "x", Options{
		HostKeyPath:        filepath.Join(t.TempDir(), "k"),
		AuthorizedKeysPath: filepath.Join(t.TempDir(), "missing"),
	}, testr.New(t))
	assert.Error(t, err)
}
