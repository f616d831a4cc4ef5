// Package daemon runs the background side of a mount: the download
// finisher workers, the keep-alive pulse that refreshes server locks,
// and the proxy change loop.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/network"
	"github.com/apple-oss-distributions/webdavfs/node"
	"github.com/apple-oss-distributions/webdavfs/webdav"
)

type downloadJob struct {
	node *node.Node
	slot *network.Slot
}

// Daemon owns the goroutines that outlive individual requests.
type Daemon struct {
	nw  *network.Network
	ops *webdav.Operations
	opt *fs.Options

	downloads chan downloadJob

	mu     sync.Mutex
	locked map[*node.Node]struct{}
}

// New wires a daemon to the network context and installs it as the
// download queuer.
func New(nw *network.Network, ops *webdav.Operations) *Daemon {
	opt := nw.Options()
	d := &Daemon{
		nw:        nw,
		ops:       ops,
		opt:       opt,
		downloads: make(chan downloadJob, opt.RequestThreads+1),
		locked:    make(map[*node.Node]struct{}),
	}
	nw.SetDownloadQueuer(d)
	return d
}

// EnqueueDownload implements network.DownloadQueuer. Ownership of the
// slot transfers with the node into the background worker; the enqueuing
// transaction must not release it.
func (d *Daemon) EnqueueDownload(n *node.Node, slot *network.Slot) error {
	select {
	case d.downloads <- downloadJob{node: n, slot: slot}:
		return nil
	default:
		return errors.New("download queue full")
	}
}

// TrackLock registers a node whose server lock the pulse keeps alive.
func (d *Daemon) TrackLock(n *node.Node) {
	d.mu.Lock()
	d.locked[n] = struct{}{}
	d.mu.Unlock()
}

// UntrackLock stops refreshing the node's lock.
func (d *Daemon) UntrackLock(n *node.Node) {
	d.mu.Lock()
	delete(d.locked, n)
	d.mu.Unlock()
}

func (d *Daemon) lockedNodes() []*node.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes := make([]*node.Node, 0, len(d.locked))
	for n := range d.locked {
		nodes = append(nodes, n)
	}
	return nodes
}

// Run starts the worker goroutines and blocks until the context is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opt.RequestThreads; i++ {
		g.Go(func() error { return d.downloadWorker(ctx) })
	}
	g.Go(func() error { return d.pulse(ctx) })
	g.Go(func() error { return d.proxyLoop(ctx) })
	return g.Wait()
}

func (d *Daemon) downloadWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-d.downloads:
			if err := d.nw.FinishDownload(job.node, job.slot); err != nil {
				fs.Errorf(job.node, "background download failed: %v", err)
			}
		}
	}
}

// pulse refreshes every tracked lock at half its timeout so the server
// never sees one expire while a file is open for write.
func (d *Daemon) pulse(ctx context.Context) error {
	interval := time.Duration(d.opt.LockTimeoutSeconds) * time.Second / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, n := range d.lockedNodes() {
				if n.LockToken == "" {
					d.UntrackLock(n)
					continue
				}
				if err := d.ops.Lock(n.LockUID, true, n); err != nil {
					fs.Errorf(n, "lock refresh failed: %v", err)
				}
			}
		}
	}
}

func (d *Daemon) proxyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.nw.Proxy().Changes():
			fs.Infof(nil, "proxy configuration changed")
		}
	}
}
