package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

const defaultToolboxBaseURL = "https://api.mxtoolbox.com/api/v1"

// networkCommands are the sub-lookups a network check fans out to. Each
// command succeeds or fails independently; partial failure never fails the
// whole check.
var networkCommands = []string{
	"blacklist", "smtp", "mx", "a", "spf", "txt", "ptr", "cname",
	"whois", "arin", "soa", "tcp", "https", "ping", "trace", "dns",
}

// blacklistZones are the DNSBL zones consulted by the local blacklist
// lookup.
var blacklistZones = []string{
	"zen.spamhaus.org",
	"bl.spamcop.net",
	"dnsbl.sorbs.net",
}

// errToolboxOnly marks a command that has no local implementation and is
// skipped, not failed, when no toolbox API key is configured.
var errToolboxOnly = errors.New("lookup requires a toolbox API key")

// Network runs parallel DNS/SMTP/blacklist lookups. With a toolbox API key
// every command goes through the external toolbox service; without one the
// DNS-answerable commands run against the system resolver and the
// toolbox-only ones (whois, arin, trace) are reported as skipped.
type Network struct {
	ToolboxAPIKey  string
	ToolboxBaseURL string
	Client         *http.Client
	Resolver       string
	CommandTimeout time.Duration
	DialTimeout    time.Duration
}

// NewNetwork returns a network probe. Empty baseURL means the default
// toolbox endpoint.
func NewNetwork(apiKey, baseURL string) *Network {
	if baseURL == "" {
		baseURL = defaultToolboxBaseURL
	}
	return &Network{
		ToolboxAPIKey:  apiKey,
		ToolboxBaseURL: baseURL,
		Client:         &http.Client{Timeout: 60 * time.Second},
		Resolver:       systemResolver(),
		CommandTimeout: 20 * time.Second,
		DialTimeout:    5 * time.Second,
	}
}

func (n *Network) Type() checkup.CheckType {
	return checkup.TypeNetwork
}

func (n *Network) Run(ctx context.Context, target string) (map[string]any, error) {
	host := ExtractHost(target)
	if host == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}

	results := make(map[string]any, len(networkCommands))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, command := range networkCommands {
		g.Go(func() error {
			cmdCtx, cancel := context.WithTimeout(gctx, n.CommandTimeout)
			defer cancel()

			result := n.lookup(cmdCtx, command, host)
			mu.Lock()
			results[command] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"target":    target,
		"results":   results,
	}, nil
}

// lookup runs one command and always returns a tagged result, never an
// error: command failure is data here.
func (n *Network) lookup(ctx context.Context, command, host string) map[string]any {
	var (
		data map[string]any
		err  error
	)
	if n.ToolboxAPIKey != "" {
		data, err = n.toolboxLookup(ctx, command, host)
	} else {
		data, err = n.localLookup(ctx, command, host)
	}

	if errors.Is(err, errToolboxOnly) {
		return map[string]any{
			"command": command,
			"status":  "skipped",
			"error":   fmt.Sprintf("%s lookup requires a toolbox API key", command),
		}
	}
	if err != nil {
		return map[string]any{
			"command": command,
			"status":  "error",
			"error":   err.Error(),
		}
	}
	return map[string]any{
		"command": command,
		"status":  "success",
		"data":    data,
	}
}

// toolboxLookup queries the external toolbox API for a command.
func (n *Network) toolboxLookup(ctx context.Context, command, host string) (map[string]any, error) {
	lookupURL := fmt.Sprintf("%s/lookup/%s/?argument=%s", n.ToolboxBaseURL, command, url.QueryEscape(host))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", n.ToolboxAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("toolbox status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// localLookup answers a command with the system resolver and direct dials.
// Results use the toolbox report shape (Passed/Failed/Warnings/Timeouts
// item lists) so the summary filter treats both sources the same.
func (n *Network) localLookup(ctx context.Context, command, host string) (map[string]any, error) {
	switch command {
	case "a":
		return n.recordLookup(ctx, host, dns.TypeA, "A record")
	case "mx":
		return n.recordLookup(ctx, host, dns.TypeMX, "MX record")
	case "txt":
		return n.recordLookup(ctx, host, dns.TypeTXT, "TXT record")
	case "cname":
		return n.recordLookup(ctx, host, dns.TypeCNAME, "CNAME record")
	case "soa":
		return n.recordLookup(ctx, host, dns.TypeSOA, "SOA record")
	case "dns":
		return n.recordLookup(ctx, host, dns.TypeNS, "NS record")
	case "spf":
		return n.spfLookup(ctx, host)
	case "ptr":
		return n.ptrLookup(ctx, host)
	case "blacklist":
		return n.blacklistLookup(ctx, host)
	case "smtp":
		return n.smtpLookup(ctx, host)
	case "tcp":
		return n.tcpLookup(host)
	case "https":
		return n.httpsLookup(ctx, host)
	case "ping":
		return n.pingLookup(host)
	case "whois", "arin", "trace":
		return nil, errToolboxOnly
	}
	return nil, fmt.Errorf("unknown command %q", command)
}

func (n *Network) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	client := &dns.Client{Timeout: n.DialTimeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	in, _, err := client.ExchangeContext(ctx, msg, n.Resolver)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns rcode %s", dns.RcodeToString[in.Rcode])
	}
	return in.Answer, nil
}

func (n *Network) recordLookup(ctx context.Context, host string, qtype uint16, label string) (map[string]any, error) {
	answers, err := n.query(ctx, host, qtype)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return reportData(nil, []reportItem{{Name: label + " missing", Info: "no records returned"}}, nil), nil
	}

	items := make([]reportItem, 0, len(answers))
	for _, rr := range answers {
		items = append(items, reportItem{
			Name: label + " found",
			Info: strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String())),
		})
	}
	return reportData(items, nil, nil), nil
}

func (n *Network) spfLookup(ctx context.Context, host string) (map[string]any, error) {
	answers, err := n.query(ctx, host, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	for _, rr := range answers {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		joined := strings.Join(txt.Txt, "")
		if strings.HasPrefix(joined, "v=spf1") {
			return reportData([]reportItem{{Name: "SPF record published", Info: joined}}, nil, nil), nil
		}
	}
	return reportData(nil, []reportItem{{Name: "SPF record missing", Info: "no v=spf1 TXT record"}}, nil), nil
}

func (n *Network) ptrLookup(ctx context.Context, host string) (map[string]any, error) {
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}
	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return nil, err
	}
	answers, err := n.query(ctx, strings.TrimSuffix(reverse, "."), dns.TypePTR)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return reportData(nil, nil, []reportItem{{Name: "Reverse DNS missing", Info: ip.String()}}), nil
	}

	items := make([]reportItem, 0, len(answers))
	for _, rr := range answers {
		if ptr, ok := rr.(*dns.PTR); ok {
			items = append(items, reportItem{Name: "Reverse DNS found", Info: ptr.Ptr})
		}
	}
	return reportData(items, nil, nil), nil
}

func (n *Network) blacklistLookup(ctx context.Context, host string) (map[string]any, error) {
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}
	reversed := reverseIPv4(ip)

	var passed, failed []reportItem
	for _, zone := range blacklistZones {
		answers, err := n.query(ctx, reversed+"."+zone, dns.TypeA)
		if err == nil && len(answers) > 0 {
			failed = append(failed, reportItem{Name: "Listed on " + zone, Info: ip.String()})
			continue
		}
		passed = append(passed, reportItem{Name: "Not listed on " + zone, Info: ip.String()})
	}
	return reportData(passed, failed, nil), nil
}

func (n *Network) smtpLookup(ctx context.Context, host string) (map[string]any, error) {
	answers, err := n.query(ctx, host, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var mxHost string
	best := ^uint16(0)
	for _, rr := range answers {
		if mx, ok := rr.(*dns.MX); ok && mx.Preference <= best {
			best = mx.Preference
			mxHost = strings.TrimSuffix(mx.Mx, ".")
		}
	}
	if mxHost == "" {
		return reportData(nil, []reportItem{{Name: "SMTP unreachable", Info: "no MX records"}}, nil), nil
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(mxHost, "25"), n.DialTimeout)
	if err != nil {
		return reportData(nil, nil, []reportItem{{Name: "SMTP connect timeout", Info: mxHost}}), nil
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(n.DialTimeout))
	banner := make([]byte, 256)
	read, _ := conn.Read(banner)
	return reportData([]reportItem{{
		Name: "SMTP banner from " + mxHost,
		Info: strings.TrimSpace(string(banner[:read])),
	}}, nil, nil), nil
}

func (n *Network) tcpLookup(host string) (map[string]any, error) {
	var passed, failed []reportItem
	for _, port := range []string{"443", "80"} {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), n.DialTimeout)
		if err != nil {
			failed = append(failed, reportItem{Name: "TCP port " + port + " closed", Info: err.Error()})
			continue
		}
		conn.Close()
		passed = append(passed, reportItem{Name: "TCP port " + port + " open", Info: host})
	}
	return reportData(passed, failed, nil), nil
}

func (n *Network) httpsLookup(ctx context.Context, host string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return reportData(nil, []reportItem{{
			Name: "HTTPS error response",
			Info: resp.Status,
		}}, nil), nil
	}
	return reportData([]reportItem{{Name: "HTTPS reachable", Info: resp.Status}}, nil, nil), nil
}

func (n *Network) pingLookup(host string) (map[string]any, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, "443"), n.DialTimeout)
	if err != nil {
		conn, err = net.DialTimeout("tcp", net.JoinHostPort(host, "80"), n.DialTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("host unreachable: %w", err)
	}
	rtt := time.Since(start)
	conn.Close()
	return reportData([]reportItem{{
		Name: "Host reachable",
		Info: fmt.Sprintf("rtt %dms", rtt.Milliseconds()),
	}}, nil, nil), nil
}

// reportItem is one named finding inside a command result.
type reportItem struct {
	Name string
	Info string
}

func reportData(passed, failed, timeouts []reportItem) map[string]any {
	data := map[string]any{}
	if len(passed) > 0 {
		data["Passed"] = itemsToMaps(passed)
	}
	if len(failed) > 0 {
		data["Failed"] = itemsToMaps(failed)
	}
	if len(timeouts) > 0 {
		data["Timeouts"] = itemsToMaps(timeouts)
	}
	return data
}

func itemsToMaps(items []reportItem) []any {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{"Name": item.Name, "Info": item.Info})
	}
	return out
}

func reverseIPv4(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return ip.String()
	}
	return fmt.Sprintf("%d.%d.%d.%d", v4[3], v4[2], v4[1], v4[0])
}

func systemResolver() string {
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		return net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return "8.8.8.8:53"
}
