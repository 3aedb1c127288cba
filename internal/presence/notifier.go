//go:build linux
// +build linux

// File: internal/presence/notifier.go
// Author: momentics <momentics@gmail.com>

package presence

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Notifier learns about users that went offline.
type Notifier interface {
	NotifyOffline(user string)
}

// NotifierConfig addresses the backend that receives offline reports.
type NotifierConfig struct {
	IP         string
	Port       int
	RequestURL string
	Timeout    time.Duration // per request, default 5s
	QueueSize  int           // pending reports, default 1024
}

// URL returns the full endpoint, http://ip:port/request-url.
func (c NotifierConfig) URL() string {
	path := c.RequestURL
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(c.IP, strconv.Itoa(c.Port)) + path
}

type offlineReport struct {
	Username string `json:"username"`
}

// HTTPNotifier posts {"username": ...} to the backend from a background
// worker, so callers on the event loop never wait for HTTP.
type HTTPNotifier struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup
}

var _ Notifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier validates cfg and starts the worker.
func NewHTTPNotifier(cfg NotifierConfig, log *zap.Logger) (*HTTPNotifier, error) {
	if cfg.IP == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, api.NewError(api.ErrCodeConfiguration, "invalid notifier endpoint").
			WithContext("ip", cfg.IP).
			WithContext("port", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &HTTPNotifier{
		client: &fasthttp.Client{
			Name:         "hioload-tcp-presence",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		url:     cfg.URL(),
		timeout: cfg.Timeout,
		log:     log,
		jobs:    make(chan string, cfg.QueueSize),
	}
	n.wg.Add(1)
	go n.worker()
	return n, nil
}

// NotifyOffline queues a report. It never blocks; a full queue drops the report.
func (n *HTTPNotifier) NotifyOffline(user string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.log.Warn("notifier closed, dropping offline report", zap.String("user", user))
		return
	}
	select {
	case n.jobs <- user:
	default:
		n.log.Warn("notifier queue full, dropping offline report", zap.String("user", user))
	}
}

func (n *HTTPNotifier) worker() {
	defer n.wg.Done()
	for user := range n.jobs {
		if err := n.post(user); err != nil {
			n.log.Error("offline report failed", zap.String("user", user), zap.String("url", n.url), zap.Error(err))
			continue
		}
		n.log.Info("offline report delivered", zap.String("user", user))
	}
}

func (n *HTTPNotifier) post(user string) error {
	body, err := json.Marshal(offlineReport{Username: user})
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(n.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.timeout); err != nil {
		return fmt.Errorf("post %s: %w", n.url, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d: %s", n.url, code, resp.Body())
	}
	return nil
}

// Close stops accepting reports, delivers the queued ones and waits for the worker.
func (n *HTTPNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return api.ErrClosed
	}
	n.closed = true
	close(n.jobs)
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}
