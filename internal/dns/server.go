// Package dns runs the local DNS sinkhole that enforces the blocklist.
// Queries for blocked domains (and their subdomains) answer 0.0.0.0;
// everything else is forwarded upstream.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/goodtune/tabtime/internal/metrics"
	"github.com/goodtune/tabtime/internal/rules"
)

// Server handles DNS queries with block/forward logic. It implements
// rules.Sink: the installed rule set is the blocked-domain set.
type Server struct {
	upstreamDNS []string
	logger      zerolog.Logger
	blockTTL    uint32

	// DNS client for upstream queries
	client *dns.Client

	// Servers
	udpServer *dns.Server
	tcpServer *dns.Server

	mu      sync.RWMutex
	blocked map[string]struct{}
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr  string
	UpstreamDNS []string
	BlockTTL    uint32
	EnableTCP   bool
	EnableUDP   bool
	Timeout     time.Duration
}

// NewServer creates a new DNS sinkhole server
func NewServer(config Config, logger zerolog.Logger) *Server {
	s := &Server{
		upstreamDNS: config.UpstreamDNS,
		logger:      logger.With().Str("component", "dns").Logger(),
		blockTTL:    config.BlockTTL,
		client: &dns.Client{
			Timeout: config.Timeout,
		},
		blocked: make(map[string]struct{}),
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSRequest)

	if config.EnableUDP {
		s.udpServer = &dns.Server{
			Addr:    config.ListenAddr,
			Net:     "udp",
			Handler: mux,
		}
	}

	if config.EnableTCP {
		s.tcpServer = &dns.Server{
			Addr:    config.ListenAddr,
			Net:     "tcp",
			Handler: mux,
		}
	}

	return s
}

// SetListeners installs systemd socket-activated listeners.
func (s *Server) SetListeners(udp net.PacketConn, tcp net.Listener) {
	if udp != nil && s.udpServer != nil {
		s.udpServer.PacketConn = udp
	}
	if tcp != nil && s.tcpServer != nil {
		s.tcpServer.Listener = tcp
	}
}

// Start starts the DNS server
func (s *Server) Start() error {
	errChan := make(chan error, 2)

	if s.udpServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.udpServer.Addr).Msg("Starting DNS sinkhole (UDP)")
			if err := s.udpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("UDP server error: %w", err)
			}
		}()
	}

	if s.tcpServer != nil {
		go func() {
			s.logger.Info().Str("addr", s.tcpServer.Addr).Msg("Starting DNS sinkhole (TCP)")
			if err := s.tcpServer.ListenAndServe(); err != nil {
				errChan <- fmt.Errorf("TCP server error: %w", err)
			}
		}()
	}

	// Wait a bit to ensure servers started
	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the DNS server
func (s *Server) Stop() error {
	var errs []error

	if s.udpServer != nil {
		if err := s.udpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("UDP shutdown error: %w", err))
		}
	}

	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("TCP shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	return nil
}

// ReplaceRules swaps the blocked-domain set wholesale. Reapplying the same
// set is a no-op in effect.
func (s *Server) ReplaceRules(_ context.Context, ruleSet []rules.Rule) error {
	next := make(map[string]struct{}, len(ruleSet))
	for _, rule := range ruleSet {
		next[strings.ToLower(rule.Domain)] = struct{}{}
	}

	s.mu.Lock()
	s.blocked = next
	s.mu.Unlock()

	s.logger.Info().Int("domains", len(next)).Msg("DNS block rules replaced")
	return nil
}

// isBlocked checks the domain and its parent domains against the rule set.
func (s *Server) isBlocked(domain string) bool {
	domain = strings.ToLower(domain)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.blocked[domain]; ok {
		return true
	}
	for blocked := range s.blocked {
		if strings.HasSuffix(domain, "."+blocked) {
			return true
		}
	}
	return false
}

// handleDNSRequest handles incoming DNS requests
func (s *Server) handleDNSRequest(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)

	for _, question := range r.Question {
		domain := strings.TrimSuffix(question.Name, ".")

		if s.isBlocked(domain) {
			msg.Authoritative = true
			if answer := s.createBlockResponse(&question); answer != nil {
				msg.Answer = append(msg.Answer, answer)
			}
			metrics.DNSQueriesTotal.WithLabelValues("block").Inc()

			s.logger.Debug().
				Str("domain", domain).
				Str("type", dns.TypeToString[question.Qtype]).
				Msg("Blocked DNS query")
			continue
		}

		// Forward to upstream and return real response
		upstreamResp, err := s.forwardToUpstream(r)
		if err != nil {
			s.logger.Warn().Err(err).Str("domain", domain).Msg("Upstream DNS query failed")
			msg.Rcode = dns.RcodeServerFailure
			metrics.DNSQueriesTotal.WithLabelValues("error").Inc()
			continue
		}

		msg.Answer = append(msg.Answer, upstreamResp.Answer...)
		msg.Rcode = upstreamResp.Rcode
		metrics.DNSQueriesTotal.WithLabelValues("forward").Inc()
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write DNS response")
	}
}

// createBlockResponse creates a DNS response that blocks the domain
func (s *Server) createBlockResponse(q *dns.Question) dns.RR {
	if q.Qtype == dns.TypeA {
		return &dns.A{
			Hdr: dns.RR_Header{
				Name:   q.Name,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    s.blockTTL,
			},
			A: net.ParseIP("0.0.0.0").To4(),
		}
	}
	// Empty answer for other query types keeps blocked domains unresolvable
	return nil
}

// forwardToUpstream forwards a DNS query to upstream DNS servers
func (s *Server) forwardToUpstream(r *dns.Msg) (*dns.Msg, error) {
	for _, upstream := range s.upstreamDNS {
		resp, _, err := s.client.Exchange(r, upstream)
		if err == nil && resp != nil {
			return resp, nil
		}
		s.logger.Warn().
			Err(err).
			Str("upstream", upstream).
			Msg("Upstream DNS query failed, trying next")

		metrics.DNSUpstreamErrors.WithLabelValues(upstream).Inc()
	}
	return nil, fmt.Errorf("all upstream DNS servers failed")
}
