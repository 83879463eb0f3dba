package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CertificateLoader serves a TLS key pair and reloads it whenever the
// files change on disk.
type CertificateLoader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	reloaded  chan struct{}
}

// NewCertificateLoader loads the key pair and starts watching the
// directories holding it. Directories are watched rather than files so that
// atomic replacement (rename over the old file, as done by cert-manager and
// certbot) is picked up without re-adding watches.
func NewCertificateLoader(certPath, keyPath string) (*CertificateLoader, error) {
	cl := &CertificateLoader{
		certPath: filepath.Clean(certPath),
		keyPath:  filepath.Clean(keyPath),
		done:     make(chan struct{}),
		reloaded: make(chan struct{}, 1),
	}

	if err := cl.loadCertificate(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	cl.watcher = watcher

	dirs := map[string]bool{filepath.Dir(cl.certPath): true, filepath.Dir(cl.keyPath): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go cl.watchLoop()

	return cl, nil
}

func (cl *CertificateLoader) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(cl.certPath, cl.keyPath)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.cert = &cert
	cl.mu.Unlock()
	return nil
}

func (cl *CertificateLoader) watchLoop() {
	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != cl.certPath && name != cl.keyPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Cert and key are usually written one after the other; the
			// first event may see a mismatched pair. Keep the old one.
			if err := cl.loadCertificate(); err != nil {
				slog.Warn("certificate reload failed, keeping previous", "file", name, "error", err)
				continue
			}
			slog.Info("certificate reloaded", "file", name)
			select {
			case cl.reloaded <- struct{}{}:
			default:
			}
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("certificate watcher error", "error", err)
		case <-cl.done:
			return
		}
	}
}

// GetCertificate returns the current certificate. Suitable for use as
// tls.Config.GetCertificate callback.
func (cl *CertificateLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// Reloaded receives a value after each successful reload. Sends are
// dropped when nobody is listening.
func (cl *CertificateLoader) Reloaded() <-chan struct{} {
	return cl.reloaded
}

// Close stops the file watcher.
func (cl *CertificateLoader) Close() error {
	var err error
	cl.closeOnce.Do(func() {
		close(cl.done)
		err = cl.watcher.Close()
	})
	return err
}

// NewServerTLSConfig returns a TLS configuration for the HTTP listener that
// serves whatever certificate the loader currently holds.
func NewServerTLSConfig(certLoader *CertificateLoader) *tls.Config {
	return &tls.Config{
		GetCertificate: certLoader.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}
