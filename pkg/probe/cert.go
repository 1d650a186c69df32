package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// Cert status values.
const (
	CertValid       = "valid"
	CertExpiring    = "expiring"
	CertExpired     = "expired"
	CertUnreachable = "unreachable"
)

// expiringWithin marks a certificate as expiring.
const expiringWithin = 30 * 24 * time.Hour

const certDialTimeout = 10 * time.Second

// CertStatus describes the leaf certificate served by a provider origin.
type CertStatus struct {
	ProviderID string `json:"provider_id"`
	Endpoint   string `json:"endpoint"`
	Status     string `json:"status"`
	DaysLeft   int    `json:"days_left"`
	Issuer     string `json:"issuer,omitempty"`
	NotAfter   string `json:"not_after,omitempty"`

	// Trusted is false when the chain does not verify against the system
	// roots or does not cover the origin hostname.
	Trusted bool   `json:"trusted"`
	Error   string `json:"error,omitempty"`
}

// CheckCert dials the TLS endpoint of p's origin and inspects the leaf
// certificate. It returns nil for plain-HTTP origins. The handshake skips
// verification so that expired and self-signed certificates can still be
// reported; trust is checked separately.
func CheckCert(ctx context.Context, p types.Provider) *CertStatus {
	return checkCert(ctx, p, nil, time.Now())
}

func checkCert(ctx context.Context, p types.Provider, roots *x509.CertPool, now time.Time) *CertStatus {
	u, err := url.Parse(p.OriginURL)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{
		ProviderID: p.ID,
		Endpoint:   p.OriginURL,
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: true, //nolint:gosec // inspected manually below
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = CertUnreachable
		cs.Error = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		cs.Status = CertUnreachable
		cs.Error = "no peer certificates"
		return cs
	}

	leaf := peers[0]
	intermediates := x509.NewCertPool()
	for _, c := range peers[1:] {
		intermediates.AddCert(c)
	}
	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       u.Hostname(),
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	cs.Trusted = verifyErr == nil
	if verifyErr != nil {
		cs.Error = verifyErr.Error()
	}

	left := leaf.NotAfter.Sub(now)
	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	if cs.Issuer == "" && len(leaf.Issuer.Organization) > 0 {
		cs.Issuer = leaf.Issuer.Organization[0]
	}
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = CertExpired
	case left <= expiringWithin:
		cs.Status = CertExpiring
	default:
		cs.Status = CertValid
	}
	return cs
}
