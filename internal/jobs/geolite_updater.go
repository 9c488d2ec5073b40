package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// GeoLiteJobName identifies the updater in the scheduler.
	GeoLiteJobName = "geolite_updater"
)

// GeoLiteUpdaterJob keeps the local GeoLite2 City database fresh.
type GeoLiteUpdaterJob struct {
	logger      *slog.Logger
	licenseKey  string
	downloadURL string
	destPath    string
	client      *http.Client
	onUpdate    func()
	now         func() time.Time
}

// NewGeoLiteUpdaterJob creates a GeoLite updater. downloadURL is a format
// string receiving the license key. onUpdate runs after a new file is in place.
func NewGeoLiteUpdaterJob(logger *slog.Logger, licenseKey, downloadURL, destPath string, onUpdate func()) *GeoLiteUpdaterJob {
	if destPath == "" {
		destPath = filepath.Join("storage", "GeoLite2-City.mmdb")
	}
	return &GeoLiteUpdaterJob{
		logger:      logger,
		licenseKey:  licenseKey,
		downloadURL: downloadURL,
		destPath:    destPath,
		client:      &http.Client{Timeout: 5 * time.Minute},
		onUpdate:    onUpdate,
		now:         time.Now,
	}
}

// IsConfigured reports whether a license key is available.
func (j *GeoLiteUpdaterJob) IsConfigured() bool {
	return j.licenseKey != "" && j.downloadURL != ""
}

// Job adapts the updater to the scheduler. Without a license key it is disabled.
func (j *GeoLiteUpdaterJob) Job(interval time.Duration) Job {
	if !j.IsConfigured() {
		return Job{Name: GeoLiteJobName}
	}
	return Job{Name: GeoLiteJobName, Interval: interval, Run: j.Run}
}

// Run downloads a new database when the current one is missing or stale.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	if !j.IsConfigured() {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	lastUpdate := j.LastUpdate()
	if j.now().Sub(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", j.now().Sub(lastUpdate)))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := j.downloadAndUpdate(ctx); err != nil {
		j.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		return err
	}

	if j.onUpdate != nil {
		j.onUpdate()
	}

	j.logger.Info("GeoLite database updated successfully", slog.String("path", j.destPath))
	return nil
}

// LastUpdate returns the modification time of the database file, or the
// zero time when it does not exist.
func (j *GeoLiteUpdaterJob) LastUpdate() time.Time {
	info, err := os.Stat(j.destPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// downloadAndUpdate downloads the archive and swaps the extracted database into place.
func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context) error {
	dir := filepath.Dir(j.destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.downloadURL, j.licenseKey), nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the destination so the final rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write database: %w", err)
	}

	if err := os.Rename(tmp.Name(), j.destPath); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream into out.
func extractMMDB(archive io.Reader, out io.Writer) error {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(out, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("no .mmdb file found in archive")
}
