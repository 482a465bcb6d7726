package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// writeTestPKI writes a self-signed CA-capable certificate for 127.0.0.1 and
// returns the cert and key paths. The certificate doubles as its own CA.
func writeTestPKI(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "kvwatch-test"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestNewServerTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestPKI(t)

	t.Run("NoCert", func(t *testing.T) {
		if _, err := NewServerTLSConfig(&TLSConfig{}); !errors.Is(err, ErrNoCertificate) {
			t.Errorf("error = %v, want ErrNoCertificate", err)
		}
	})

	t.Run("ServerOnly", func(t *testing.T) {
		conf, err := NewServerTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile})
		if err != nil {
			t.Fatalf("NewServerTLSConfig failed: %v", err)
		}
		if conf.ClientAuth != tls.NoClientCert {
			t.Errorf("ClientAuth = %v, want NoClientCert", conf.ClientAuth)
		}
		if conf.MinVersion != tls.VersionTLS13 {
			t.Errorf("MinVersion = %x, want TLS 1.3", conf.MinVersion)
		}
	})

	t.Run("MutualTLS", func(t *testing.T) {
		conf, err := NewServerTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
		if err != nil {
			t.Fatalf("NewServerTLSConfig failed: %v", err)
		}
		if conf.ClientAuth != tls.RequireAndVerifyClientCert {
			t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", conf.ClientAuth)
		}
	})

	t.Run("BadCAFile", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "ca.pem")
		os.WriteFile(bad, []byte("not pem"), 0600)
		_, err := NewServerTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: bad})
		if !errors.Is(err, ErrBadCAFile) {
			t.Errorf("error = %v, want ErrBadCAFile", err)
		}
	})
}

func TestNewClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestPKI(t)

	conf, err := NewClientTLSConfig(&TLSConfig{CAFile: certFile, CertFile: certFile, KeyFile: keyFile, ServerName: "127.0.0.1"})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if conf.RootCAs == nil {
		t.Error("RootCAs should be set from CAFile")
	}
	if len(conf.Certificates) != 1 {
		t.Errorf("len(Certificates) = %d, want 1", len(conf.Certificates))
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != ALPNProtocol {
		t.Errorf("NextProtos = %v, want [%s]", conf.NextProtos, ALPNProtocol)
	}
}

func TestTLSConfigEnabled(t *testing.T) {
	var nilConf *TLSConfig
	if nilConf.Enabled() || (&TLSConfig{}).Enabled() {
		t.Error("empty config should not be enabled")
	}
	if !(&TLSConfig{CAFile: "ca.pem"}).Enabled() {
		t.Error("config with CAFile should be enabled")
	}
}

func TestVerifyALPN(t *testing.T) {
	if err := VerifyALPN(tls.ConnectionState{NegotiatedProtocol: ALPNProtocol}); err != nil {
		t.Errorf("VerifyALPN rejected %q: %v", ALPNProtocol, err)
	}
	if err := VerifyALPN(tls.ConnectionState{NegotiatedProtocol: "h2"}); err == nil {
		t.Error("VerifyALPN should reject h2")
	}
	if err := VerifyALPN(tls.ConnectionState{}); err == nil {
		t.Error("VerifyALPN should reject an empty protocol")
	}
}

func TestMutualTLSStream(t *testing.T) {
	certFile, keyFile := writeTestPKI(t)

	serverConf, err := NewServerTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	clientConf, err := NewClientTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}

	h := &ackHandler{nextID: 5}
	srv, err := NewServer(ServerConfig{Address: "127.0.0.1:0", TLS: serverConf, Handler: h.serve})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{srv.Addr().String()}, TLS: clientConf})
	stream, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(wire.NewCreateRequest(wire.Prefix("p/"))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if resp.WatchID != 5 || !resp.Created {
		t.Errorf("response = %+v, want Created id 5", resp)
	}
}

func TestTLSRejectsUntrustedServer(t *testing.T) {
	certFile, keyFile := writeTestPKI(t)
	otherCA, _ := writeTestPKI(t)

	serverConf, _ := NewServerTLSConfig(&TLSConfig{CertFile: certFile, KeyFile: keyFile})
	clientConf, _ := NewClientTLSConfig(&TLSConfig{CAFile: otherCA})

	h := &ackHandler{}
	srv, _ := NewServer(ServerConfig{Address: "127.0.0.1:0", TLS: serverConf, Handler: h.serve})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{srv.Addr().String()}, TLS: clientConf})
	if _, err := d.Dial(context.Background()); err == nil {
		t.Error("Dial should fail against an untrusted server")
	}
}
