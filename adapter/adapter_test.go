package adapter_test

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brickworks/tlsrelay/adapter"
)

// loopback pumps ciphertext directly between a client and a server
// adapter's buffers, bypassing any real transport, to exercise the
// handshake and record layer end to end.
func loopback(t *testing.T, client, server *adapter.Adapter, stop <-chan struct{}) {
	t.Helper()
	pump := func(from, to *adapter.Adapter) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if p, ok := from.DrainEgress(0); ok {
				to.Feed(p)
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}
	go pump(client, server)
	go pump(server, client)
}

func certConfigs(t *testing.T) (clientCfg, serverCfg *tls.Config) {
	t.Helper()
	cert, err := tls.X509KeyPair(testCert, testKey)
	if err != nil {
		t.Fatalf("load test cert: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)
	serverCfg = &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg = &tls.Config{RootCAs: pool, ServerName: "tlsrelay.test", InsecureSkipVerify: true}
	return
}

func TestAdapterHandshakeAndEcho(t *testing.T) {
	clientCfg, serverCfg := certConfigs(t)

	var mu sync.Mutex
	wake := func() { mu.Lock(); mu.Unlock() } // tests poll instead of waiting on wake

	client, err := adapter.New(clientCfg, adapter.Client, 0, wake)
	if err != nil {
		t.Fatal(err)
	}
	server, err := adapter.New(serverCfg, adapter.Server, 0, wake)
	if err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	defer close(stop)
	loopback(t, client, server, stop)

	deadline := time.Now().Add(5 * time.Second)
	msg := []byte("ping")
	buf := make([]byte, 16)
	var gotN int
	var wroteOK bool
	for time.Now().Before(deadline) {
		if n, err := client.WritePlaintext(msg); err == nil {
			if n != len(msg) {
				t.Fatalf("wrote %d, want %d", n, len(msg))
			}
			wroteOK = true
			break
		} else if !errors.Is(err, adapter.ErrWouldBlock) {
			t.Fatalf("write error: %v", err)
		}
		// The server's side of the handshake only advances while a
		// plaintext call is outstanding on it, so keep a read polled.
		if n, err := server.ReadPlaintext(buf); err == nil && n > 0 {
			gotN = n
		} else if err != nil && !errors.Is(err, adapter.ErrWouldBlock) {
			t.Fatalf("read error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !wroteOK {
		t.Fatal("write never completed before deadline")
	}

	for gotN == 0 && time.Now().Before(deadline) {
		n, err := server.ReadPlaintext(buf)
		if err == nil && n > 0 {
			gotN = n
			break
		}
		if err != nil && !errors.Is(err, adapter.ErrWouldBlock) {
			t.Fatalf("read error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if string(buf[:gotN]) != "ping" {
		t.Fatalf("got %q, want ping", buf[:gotN])
	}
}
