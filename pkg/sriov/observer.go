package sriov

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/edwarnicke/genericsync"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// VFCounter reports how many VFs of a PF currently expose a netdev
type VFCounter interface {
	CountVFs(pf string) uint
}

// LinkSubscriber opens a stream of link updates on ch until done is closed
type LinkSubscriber func(ch chan<- netlink.LinkUpdate, done <-chan struct{}, onError func(error)) error

// HostLinkSubscriber subscribes to rtnetlink link updates. When nsPath is
// set the socket is opened inside that network namespace.
func HostLinkSubscriber(nsPath string) LinkSubscriber {
	return func(ch chan<- netlink.LinkUpdate, done <-chan struct{}, onError func(error)) error {
		opts := netlink.LinkSubscribeOptions{ErrorCallback: onError}
		if nsPath != "" {
			ns, err := netns.GetFromPath(nsPath)
			if err != nil {
				return errors.Wrapf(err, "error fetching network namespace %s", nsPath)
			}
			defer ns.Close()
			opts.Namespace = &ns
		}
		return netlink.LinkSubscribeWithOptions(ch, done, opts)
	}
}

// ObserverConfig configures a VFObserver
type ObserverConfig struct {
	// SysClassNet is where PF device directories are watched
	SysClassNet  string
	Timeout      time.Duration
	PollInterval time.Duration
	// Subscribe is nil to rely on polling only
	Subscribe LinkSubscriber
	Log       logrus.FieldLogger
}

// VFObserver waits for requested VFs to materialize. It is started once per
// run so link events of a PF are not lost between two waits.
type VFObserver struct {
	counter VFCounter
	cfg     ObserverConfig
	log     logrus.FieldLogger

	waiters genericsync.Map[string, chan struct{}]

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewVFObserver returns an observer that counts VFs through counter. It
// does nothing until Start is called.
func NewVFObserver(counter VFCounter, cfg ObserverConfig) *VFObserver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &VFObserver{
		counter: counter,
		cfg:     cfg,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start begins listening for link and sysfs events. Neither source is
// mandatory: without them WaitForVFCreation falls back to polling.
func (o *VFObserver) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	o.started = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.WithError(err).Warn("sysfs watcher unavailable")
	} else {
		o.watcher = watcher
		o.wg.Add(1)
		go o.watchFS(watcher)
	}

	if o.cfg.Subscribe != nil {
		ch := make(chan netlink.LinkUpdate, 64)
		onError := func(err error) {
			o.log.WithError(err).Warn("link subscription error")
		}
		if err := o.cfg.Subscribe(ch, o.done, onError); err != nil {
			o.log.WithError(err).Warn("link subscription failed, polling for VFs")
		} else {
			o.wg.Add(1)
			go o.watchLinks(ch)
		}
	}

	o.log.Debug("vf observer started")
	return nil
}

// Stop ends the subscriptions and waits for the event goroutines
func (o *VFObserver) Stop() {
	o.mu.Lock()
	if !o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.done)
	if o.watcher != nil {
		o.watcher.Close()
	}
	o.mu.Unlock()

	o.wg.Wait()
	o.log.Debug("vf observer stopped")
}

func (o *VFObserver) watchLinks(ch <-chan netlink.LinkUpdate) {
	defer o.wg.Done()
	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if update.Header.Type != unix.RTM_NEWLINK || update.Link == nil {
				continue
			}
			o.log.WithField("link", update.Attrs().Name).Debug("link added")
			o.notifyAll()
		case <-o.done:
			return
		}
	}
}

func (o *VFObserver) watchFS(watcher *fsnotify.Watcher) {
	defer o.wg.Done()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				o.log.WithField("path", event.Name).Debug("sysfs entry created")
				o.notifyAll()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.log.WithError(err).Warn("sysfs watcher error")
		case <-o.done:
			return
		}
	}
}

// notifyAll wakes every pending waiter; each one re-counts its own VFs
func (o *VFObserver) notifyAll() {
	o.waiters.Range(func(_ string, ch chan struct{}) bool {
		select {
		case ch <- struct{}{}:
		default:
		}
		return true
	})
}

// WaitForVFCreation blocks until pf has at least n VFs with a netdev, the
// configured timeout elapses or ctx is done.
func (o *VFObserver) WaitForVFCreation(ctx context.Context, pf string, n uint) error {
	if n == 0 {
		return nil
	}
	log := o.log.WithFields(logrus.Fields{"pf": pf, "numvfs": n})

	notify := make(chan struct{}, 1)
	o.waiters.Store(pf, notify)
	defer o.waiters.Delete(pf)

	o.mu.Lock()
	watcher := o.watcher
	if o.stopped {
		watcher = nil
	}
	o.mu.Unlock()
	if watcher != nil {
		dir := filepath.Join(o.cfg.SysClassNet, pf, "device")
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).Debug("unable to watch device directory")
		} else {
			defer watcher.Remove(dir)
		}
	}

	timer := time.NewTimer(o.cfg.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if found := o.counter.CountVFs(pf); found >= n {
			log.WithField("found", found).Info("vfs created")
			return nil
		}
		select {
		case <-notify:
		case <-ticker.C:
		case <-timer.C:
			return &VFCreationTimeoutError{
				PF:       pf,
				Expected: n,
				Found:    o.counter.CountVFs(pf),
				Timeout:  o.cfg.Timeout,
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
