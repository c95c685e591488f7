package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

var errPrivateAddress = errors.New("address is not publicly routable")

// fetchPolicy decides which remote front images may be downloaded. Only
// https is allowed. With an allowlist, only the listed hosts are; without
// one, any host that does not resolve to a private address is.
type fetchPolicy struct {
	hosts []string
}

func newFetchPolicy(hosts []string) fetchPolicy {
	var p fetchPolicy
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts = append(p.hosts, h)
		}
	}
	return p
}

func (p fetchPolicy) check(field string, u *url.URL) error {
	if u.Scheme != "https" {
		return apperr.Invalid(field, "image URL must use https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return apperr.Invalid(field, "image URL has no host")
	}
	if len(p.hosts) > 0 {
		if !p.allows(host) {
			return apperr.Invalid(field, fmt.Sprintf("image host %s is not allowed", host))
		}
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return apperr.Invalid(field, fmt.Sprintf("image host %s is not allowed", host))
	}
	if ip, err := netip.ParseAddr(host); err == nil && !publicAddr(ip) {
		return apperr.Invalid(field, fmt.Sprintf("image host %s is not allowed", host))
	}
	return nil
}

func (p fetchPolicy) allows(host string) bool {
	for _, h := range p.hosts {
		if host == h || (strings.HasPrefix(h, ".") && (strings.HasSuffix(host, h) || host == h[1:])) {
			return true
		}
	}
	return false
}

func publicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast() &&
		!ip.IsUnspecified()
}

// client returns base with redirects held to the policy. When base is nil
// and no allowlist is set, the client also refuses to dial private
// addresses so a public name cannot resolve to an internal one.
func (p fetchPolicy) client(base *http.Client) *http.Client {
	var c http.Client
	if base != nil {
		c = *base
	} else {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		if len(p.hosts) == 0 {
			dialer.Control = func(_, address string, _ syscall.RawConn) error {
				host, _, err := net.SplitHostPort(address)
				if err != nil {
					return err
				}
				ip, err := netip.ParseAddr(host)
				if err != nil || !publicAddr(ip) {
					return errPrivateAddress
				}
				return nil
			}
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DialContext = dialer.DialContext
		c.Transport = tr
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return p.check("redirect", req.URL)
	}
	return &c
}

func (s *PostcardService) fetch(ctx context.Context, field, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, at(StageValidation, apperr.Invalid(field, "image URL is malformed"))
	}
	if err := s.fetchPolicy.check(field, u); err != nil {
		return nil, at(StageValidation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Invalid(field, "image URL is malformed")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, apperr.Invalid(field, ae.Message)
		}
		if errors.Is(err, errPrivateAddress) {
			return nil, apperr.Invalid(field, "image host resolves to a private address")
		}
		return nil, apperr.Wrap(apperr.CodeUpstreamFailure, "fetch front image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.CodeUpstreamFailure, "fetch front image", fmt.Errorf("%s returned status %d", u.Redacted(), resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamFailure, "fetch front image", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, apperr.Invalid(field, "image is larger than 40 MiB")
	}
	return data, nil
}
