package discovery

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// NetAccess is the shared network access object. The HTTP client is created
// on the first Acquire and torn down when the last borrower releases it;
// borrowers must not keep the client past their Release.
type NetAccess struct {
	newClient func() *http.Client
	online    func() bool

	mu     sync.Mutex
	refs   int
	client *http.Client
}

// NewNetAccess builds a NetAccess whose clients use the given per-request
// timeout. online reports connectivity; nil means InterfaceOnline.
func NewNetAccess(timeout time.Duration, online func() bool) *NetAccess {
	if online == nil {
		online = InterfaceOnline
	}
	return &NetAccess{
		online: online,
		newClient: func() *http.Client {
			return &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
					MaxIdleConns:        16,
					IdleConnTimeout:     90 * time.Second,
					TLSHandshakeTimeout: 10 * time.Second,
				},
			}
		},
	}
}

// Acquire borrows the shared client. Every Acquire needs a matching Release.
func (n *NetAccess) Acquire() *http.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		n.client = n.newClient()
	}
	n.refs++
	return n.client
}

func (n *NetAccess) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.refs == 0 {
		return
	}
	n.refs--
	if n.refs == 0 && n.client != nil {
		n.client.CloseIdleConnections()
		n.client = nil
	}
}

// Refs returns the number of outstanding borrows.
func (n *NetAccess) Refs() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refs
}

// Online reports whether network requests are worth attempting.
func (n *NetAccess) Online() bool { return n.online() }

// InterfaceOnline reports whether an up, non-loopback interface with an
// address exists.
func InterfaceOnline() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
