package mauzr

import (
	"crypto/tls"
	"net"
	"time"
)

// certExpiryWarning is how long before its expiry a broker certificate is
// reported on connect.
const certExpiryWarning = 14 * 24 * time.Hour

// BrokerIdentity is what the certificate of a TLS broker says about it.
type BrokerIdentity struct {
	// CommonName is the subject CN. It may be empty.
	CommonName string

	// DNSNames are the subject alternative names.
	DNSNames []string

	// Issuer is the issuer CN.
	Issuer string

	NotAfter time.Time
}

// Name returns the CN, or the first DNS name if the CN is empty.
func (id *BrokerIdentity) Name() string {
	if id.CommonName != "" || len(id.DNSNames) == 0 {
		return id.CommonName
	}
	return id.DNSNames[0]
}

// ExpiresWithin reports whether the certificate expires within d of now.
func (id *BrokerIdentity) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !id.NotAfter.IsZero() && id.NotAfter.Sub(now) < d
}

// connectionStater is implemented by *tls.Conn.
type connectionStater interface {
	ConnectionState() tls.ConnectionState
}

// brokerIdentity returns the identity of the broker behind conn, or nil if
// conn is not a completed TLS connection.
func brokerIdentity(conn net.Conn) *BrokerIdentity {
	cs, ok := conn.(connectionStater)
	if !ok {
		return nil
	}
	state := cs.ConnectionState()
	return identityFromState(&state)
}

func identityFromState(state *tls.ConnectionState) *BrokerIdentity {
	if state == nil || !state.HandshakeComplete || len(state.PeerCertificates) == 0 {
		return nil
	}

	cert := state.PeerCertificates[0]
	return &BrokerIdentity{
		CommonName: cert.Subject.CommonName,
		DNSNames:   cert.DNSNames,
		Issuer:     cert.Issuer.CommonName,
		NotAfter:   cert.NotAfter,
	}
}

// logBrokerIdentity adds the broker name to logger and warns about a
// certificate close to its expiry.
func logBrokerIdentity(logger Logger, conn net.Conn, now time.Time) Logger {
	id := brokerIdentity(conn)
	if id == nil {
		return logger
	}

	logger = logger.WithFields(LogFields{LogFieldBroker: id.Name()})
	if id.ExpiresWithin(now, certExpiryWarning) {
		logger.Warn("broker certificate expires soon", LogFields{"not_after": id.NotAfter.Format(time.RFC3339)})
	}
	return logger
}
