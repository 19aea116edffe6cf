package probe

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// PortScan performs a TCP connect scan over a fixed port range with its own
// bounded sub-pool of workers.
type PortScan struct {
	FirstPort   int
	LastPort    int
	Workers     int
	DialTimeout time.Duration

	// dial is swappable for tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewPortScan returns a scanner over ports 1-1024 with a 500ms per-port
// connect timeout.
func NewPortScan() *PortScan {
	return &PortScan{
		FirstPort:   1,
		LastPort:    1024,
		Workers:     512,
		DialTimeout: 500 * time.Millisecond,
		dial:        net.DialTimeout,
	}
}

func (p *PortScan) Type() checkup.CheckType {
	return checkup.TypePortScan
}

func (p *PortScan) Run(ctx context.Context, target string) (map[string]any, error) {
	host := ExtractHost(target)
	if host == "" {
		return nil, sharedErrors.ErrEmptyTarget
	}

	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}
	addr := ip.String()

	open := p.scan(ctx, addr)
	sort.Ints(open)
	return map[string]any{"open_ports": open}, nil
}

func (p *PortScan) scan(ctx context.Context, addr string) []int {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	portChan := make(chan int, workers)
	resultChan := make(chan int, p.LastPort-p.FirstPort+1)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range portChan {
				if p.checkPort(addr, port) {
					resultChan <- port
				}
			}
		}()
	}

	go func() {
		defer close(portChan)
		for port := p.FirstPort; port <= p.LastPort; port++ {
			select {
			case portChan <- port:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	open := []int{}
	for port := range resultChan {
		open = append(open, port)
	}
	return open
}

func (p *PortScan) checkPort(addr string, port int) bool {
	conn, err := p.dial("tcp", net.JoinHostPort(addr, strconv.Itoa(port)), p.DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
