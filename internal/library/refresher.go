package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/fwbuilder/internal/logfields"
)

// Refresher periodically downloads the upstream library index, persists it
// next to the previous copy, and swaps the in-memory snapshot held by the
// store. The swap is atomic; in-flight builds keep the snapshot they started
// with.
type Refresher struct {
	store     *Store
	indexURL  string
	indexFile string
	interval  time.Duration
	client    *http.Client
	scheduler gocron.Scheduler
}

// NewRefresher creates a refresher for the given store. An interval of zero
// disables periodic refresh; Refresh can still be called manually.
func NewRefresher(store *Store, indexURL, indexFile string, interval time.Duration) (*Refresher, error) {
	r := &Refresher{
		store:     store,
		indexURL:  indexURL,
		indexFile: indexFile,
		interval:  interval,
		client:    &http.Client{Timeout: 2 * time.Minute},
	}

	if interval > 0 {
		s, err := gocron.NewScheduler()
		if err != nil {
			return nil, fmt.Errorf("failed to create index refresh scheduler: %w", err)
		}
		if _, err := s.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(r.refreshJob),
			gocron.WithName("library-index-refresh"),
		); err != nil {
			return nil, fmt.Errorf("failed to schedule index refresh: %w", err)
		}
		r.scheduler = s
	}

	return r, nil
}

// Start begins periodic refresh if an interval was configured.
func (r *Refresher) Start() {
	if r.scheduler == nil {
		return
	}
	slog.Info("Starting library index refresher",
		slog.Duration("interval", r.interval),
		slog.String("index_url", r.indexURL))
	r.scheduler.Start()
}

// Stop shuts down the periodic refresh.
func (r *Refresher) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	slog.Info("Stopping library index refresher")
	return r.scheduler.Shutdown()
}

func (r *Refresher) refreshJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := r.Refresh(ctx); err != nil {
		slog.Error("Library index refresh failed", logfields.Error(err))
	}
}

// Refresh downloads the index, writes it to the index file, and swaps the
// store's snapshot. The file write goes through a temp file so a crashed
// download never leaves a truncated index behind.
func (r *Refresher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.indexURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build index request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download library index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("library index download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read library index body: %w", err)
	}

	idx, err := ParseIndex(data)
	if err != nil {
		return err
	}

	if err := writeFileAtomic(r.indexFile, data); err != nil {
		return fmt.Errorf("failed to persist library index: %w", err)
	}

	r.store.SwapIndex(idx)
	slog.Info("Library index refreshed",
		slog.Int("libraries", idx.Len()),
		logfields.Path(r.indexFile))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
