package httpserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sdko-org/traffic-guard/internal/config"
)

const shutdownTimeout = 10 * time.Second

// CertOptions describes the certificate minted for the TLS listener.
type CertOptions struct {
	Organization string
	Hosts        []string
	ValidFor     time.Duration
}

func CertOptionsFrom(cfg *config.Config) CertOptions {
	return CertOptions{
		Organization: cfg.TLSCertOrganization,
		Hosts:        cfg.TLSCertHosts,
		ValidFor:     cfg.TLSCertValidity,
	}
}

// selfSignedCertificate mints an ECDSA P-256 leaf whose SANs cover opts.Hosts.
func selfSignedCertificate(opts CertOptions, now time.Time) (tls.Certificate, error) {
	if opts.ValidFor <= 0 {
		opts.ValidFor = 365 * 24 * time.Hour
	}
	if len(opts.Hosts) == 0 {
		opts.Hosts = []string{"localhost"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{opts.Organization}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range opts.Hosts {
		if ip, err := netip.ParseAddr(h); err == nil {
			template.IPAddresses = append(template.IPAddresses, net.IP(ip.AsSlice()))
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// Server runs the plain listener and, when a TLS address is configured, a
// second listener with a self-signed certificate.
type Server struct {
	servers []*http.Server
	log     *logrus.Entry
}

func New(logger *logrus.Logger, cfg *config.Config, handler http.Handler) (*Server, error) {
	s := &Server{log: logger.WithField("component", "http_server")}
	s.servers = append(s.servers, &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.TLSAddr != "" {
		cert, err := selfSignedCertificate(CertOptionsFrom(cfg), time.Now())
		if err != nil {
			return nil, fmt.Errorf("self-signed certificate: %w", err)
		}
		s.servers = append(s.servers, &http.Server{
			Addr:         cfg.TLSAddr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		})
	}
	return s, nil
}

// Run serves until ctx ends, then shuts every listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listeners := make([]net.Listener, 0, len(s.servers))
	for _, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, ln)
	}
	return s.serve(ctx, listeners)
}

func (s *Server) serve(ctx context.Context, listeners []net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, srv := range s.servers {
		srv, ln := srv, listeners[i]
		g.Go(func() error {
			var err error
			if srv.TLSConfig != nil {
				s.log.WithField("addr", ln.Addr().String()).Info("Starting HTTPS server")
				err = srv.ServeTLS(ln, "", "")
			} else {
				s.log.WithField("addr", ln.Addr().String()).Info("Starting HTTP server")
				err = srv.Serve(ln)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range s.servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		s.log.Info("HTTP servers stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}
