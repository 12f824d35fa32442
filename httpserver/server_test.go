package httpserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestIdentity creates a self-signed certificate for 127.0.0.1,
// standing in for a decoded PKCS#12 bundle.
func generateTestIdentity(t *testing.T) *tls.Certificate {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  privateKey,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func helloHandler() Handler {
	return HandlerFunc(func(_ context.Context, _ *http.Request) *Response {
		return NewMsgResponse(http.StatusOK, "hello")
	})
}

func startTestServer(t *testing.T, identity *tls.Certificate, main Handler) *Server {
	t.Helper()

	cfg := &HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		ListenAddrTLS:            "127.0.0.1:0",
		Identity:                 identity,
		Log:                      testLogger(),
		GracefulShutdownDuration: time.Second,
	}
	srv, err := New(cfg, main)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestInsecureMode_ServesMainOverPlaintext(t *testing.T) {
	srv := startTestServer(t, nil, helloHandler())

	// No HTTPS socket exists in insecure mode.
	assert.Empty(t, srv.TLSAddr())

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestSecureMode_PlaintextIsRedirected(t *testing.T) {
	srv := startTestServer(t, generateTestIdentity(t), helloHandler())

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get("http://" + srv.Addr() + "/some/path?x=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "https://"+srv.TLSAddr()+"/some/path?x=1", resp.Header.Get("Location"))

	// The main service never answers on the plaintext socket.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "hello")
}

func TestSecureMode_ServesMainOverTLS(t *testing.T) {
	srv := startTestServer(t, generateTestIdentity(t), helloHandler())

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get("https://" + srv.TLSAddr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

// A connection that botches its TLS handshake is dropped without disturbing
// the accept loop: a well-formed connection made alongside it is still
// served.
func TestSecureMode_HandshakeFailureIsolation(t *testing.T) {
	srv := startTestServer(t, generateTestIdentity(t), helloHandler())

	// Send garbage instead of a ClientHello.
	conn, err := net.Dial("tcp", srv.TLSAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("this is definitely not a tls handshake\r\n"))
	require.NoError(t, err)

	// The server drops the connection, possibly after sending a TLS alert.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	for err == nil {
		_, err = conn.Read(buf)
	}
	assert.Error(t, err)

	// A concurrent well-formed connection is accepted and served.
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get("https://" + srv.TLSAddr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The failure was counted.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.metricsSrv.TLSHandshakeFailures) >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStart_PortInUse(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := &HTTPServerConfig{
		ListenAddr: taken.Addr().String(),
		Log:        testLogger(),
	}
	srv, err := New(cfg, helloHandler())
	require.NoError(t, err)

	err = srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot bind HTTP address")
}

func TestStart_MalformedBindAddr(t *testing.T) {
	cfg := &HTTPServerConfig{
		ListenAddr: "not-an-address",
		Log:        testLogger(),
	}
	srv, err := New(cfg, helloHandler())
	require.NoError(t, err)

	require.Error(t, srv.Start())
}

func TestNew_MalformedTLSAddr(t *testing.T) {
	cfg := &HTTPServerConfig{
		ListenAddr:    "127.0.0.1:0",
		ListenAddrTLS: "no-port-here",
		Identity:      generateTestIdentity(t),
		Log:           testLogger(),
	}
	_, err := New(cfg, helloHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTPS listen address")
}

// A panic inside a handler is confined to that request and surfaces as an
// opaque 500; the server keeps serving.
func TestDispatch_PanicIsolation(t *testing.T) {
	calls := 0
	main := HandlerFunc(func(_ context.Context, _ *http.Request) *Response {
		calls++
		if calls == 1 {
			panic("handler exploded")
		}
		return NewMsgResponse(http.StatusOK, "recovered")
	})
	srv := startTestServer(t, nil, main)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Handlers that produce no response are treated as internal failures with
// no detail leaked.
func TestDispatch_NilResponse(t *testing.T) {
	main := HandlerFunc(func(_ context.Context, _ *http.Request) *Response {
		return nil
	})
	srv := startTestServer(t, nil, main)

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}
