package mauzr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level  LogLevel
	msg    string
	fields LogFields
}

// recordingLogger keeps every log call for later inspection.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordingLogger) record(level LogLevel, msg string, fields LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make(LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, fields: all})
}

func (r *recordingLogger) Debug(msg string, fields LogFields) { r.record(LogLevelDebug, msg, fields) }
func (r *recordingLogger) Info(msg string, fields LogFields)  { r.record(LogLevelInfo, msg, fields) }
func (r *recordingLogger) Warn(msg string, fields LogFields)  { r.record(LogLevelWarn, msg, fields) }
func (r *recordingLogger) Error(msg string, fields LogFields) { r.record(LogLevelError, msg, fields) }

func (r *recordingLogger) WithFields(fields LogFields) Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make(LogFields, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{mu: r.mu, entries: r.entries, fields: merged}
}

func (r *recordingLogger) Level() LogLevel     { return LogLevelDebug }
func (r *recordingLogger) SetLevel(_ LogLevel) {}

// count returns how many entries at level contain msg.
func (r *recordingLogger) count(level LogLevel, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range *r.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

type testCert struct {
	cert    tls.Certificate
	pool    *x509.CertPool
	certPEM []byte
	keyPEM  []byte
	der     []byte
	key     *ecdsa.PrivateKey
}

// newTestCert creates a self signed certificate for 127.0.0.1 and localhost.
func newTestCert(t testing.TB) testCert {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)

	return testCert{cert: cert, pool: pool, certPEM: certPEM, keyPEM: keyPEM, der: der, key: key}
}
