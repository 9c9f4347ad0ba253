// Package catalog keeps the certificate base loaded from spreadsheets in
// memory and refreshes it in the background.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/codecalc/junction-engine/internal/sheets"
	"github.com/codecalc/junction-engine/pkg/models"
)

// Catalog caches the certificates under the default prefix. Requests for any
// other prefix are loaded straight from the source.
type Catalog struct {
	source sheets.Source
	prefix string
	logger *zap.Logger

	// OnRefresh, when set, is called after every refresh with the certificate count.
	OnRefresh func(certificates int)

	mu     sync.RWMutex
	certs  []models.Certificate
	flight singleflight.Group

	refreshing   atomic.Bool
	loaded       atomic.Bool
	workbooks    atomic.Int64
	skipped      atomic.Int64
	certificates atomic.Int64
	lastRefresh  atomic.Int64 // unix nanos
	lastError    atomic.Value // string
}

// Progress is the catalog state reported by the API.
type Progress struct {
	Refreshing   bool       `json:"refreshing"`
	Prefix       string     `json:"prefix"`
	Workbooks    int64      `json:"workbooks"`
	Skipped      int64      `json:"skipped"`
	Certificates int64      `json:"certificates"`
	LastRefresh  *time.Time `json:"lastRefresh,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

func New(source sheets.Source, prefix string, logger *zap.Logger) *Catalog {
	c := &Catalog{source: source, prefix: prefix, logger: logger.Named("catalog")}
	c.lastError.Store("")
	return c
}

// Progress returns the current catalog state (thread-safe).
func (c *Catalog) Progress() Progress {
	p := Progress{
		Refreshing:   c.refreshing.Load(),
		Prefix:       c.prefix,
		Workbooks:    c.workbooks.Load(),
		Skipped:      c.skipped.Load(),
		Certificates: c.certificates.Load(),
		LastError:    c.lastError.Load().(string),
	}
	if ns := c.lastRefresh.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		p.LastRefresh = &t
	}
	return p
}

// Refresh reloads the default prefix. A caller arriving while a refresh is
// in flight waits for it and shares its outcome instead of starting another.
func (c *Catalog) Refresh(ctx context.Context) error {
	ch := c.flight.DoChan(c.prefix, func() (any, error) {
		return nil, c.refresh(ctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("joined in-flight refresh")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Catalog) refresh(ctx context.Context) error {
	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	start := time.Now()
	certs, workbooks, skipped, err := c.load(ctx, c.prefix)
	if err != nil {
		c.lastError.Store(err.Error())
		c.logger.Error("catalog refresh failed", zap.String("prefix", c.prefix), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.certs = certs
	c.mu.Unlock()

	c.loaded.Store(true)
	c.workbooks.Store(int64(workbooks))
	c.skipped.Store(int64(skipped))
	c.certificates.Store(int64(len(certs)))
	c.lastRefresh.Store(time.Now().UnixNano())
	c.lastError.Store("")

	c.logger.Info("catalog refreshed",
		zap.String("prefix", c.prefix),
		zap.Int("workbooks", workbooks),
		zap.Int("skipped", skipped),
		zap.Int("certificates", len(certs)),
		zap.Duration("elapsed", time.Since(start)))
	if c.OnRefresh != nil {
		c.OnRefresh(len(certs))
	}
	return nil
}

// Run refreshes immediately and then on every tick until ctx is done.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("starting catalog refresher", zap.Duration("interval", interval))
	_ = c.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping catalog refresher")
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Certificates returns the certificate base under prefix. An empty prefix
// means the default one, served from cache once it has been loaded. Before
// the first load completes, callers wait for it, joining a refresh already
// in flight.
func (c *Catalog) Certificates(ctx context.Context, prefix string) ([]models.Certificate, error) {
	if prefix == "" || prefix == c.prefix {
		if !c.loaded.Load() {
			if err := c.Refresh(ctx); err != nil {
				return nil, err
			}
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.certs, nil
	}
	certs, _, _, err := c.load(ctx, prefix)
	return certs, err
}

// load parses every workbook under prefix. Workbooks that fail to parse are
// logged and skipped so one broken file does not hide the rest of the base.
func (c *Catalog) load(ctx context.Context, prefix string) ([]models.Certificate, int, int, error) {
	workbooks, err := c.source.Workbooks(ctx, prefix)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list workbooks under %q: %w", prefix, err)
	}

	var certs []models.Certificate
	skipped := 0
	for _, wb := range workbooks {
		parsed, err := sheets.Parse(wb)
		if err != nil {
			skipped++
			c.logger.Warn("skipping workbook", zap.String("workbook", wb.Name), zap.Error(err))
			continue
		}
		certs = append(certs, parsed...)
	}
	return certs, len(workbooks), skipped, nil
}
