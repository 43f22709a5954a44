package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeCancelled
	outcomeFailed
)

// transferResult is produced exactly once per download attempt.
type transferResult struct {
	outcome  outcome
	tmpPath  string
	expected int64 // -1 when the server did not say
	err      error
}

// progressReader reports the fraction of expected bytes read so far.
// With an unknown total it never reports.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     float64
	progress func(float64)
}

const progressStep = 0.005

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		pct := min(float64(p.read)/float64(p.total), 1)
		if pct-p.last >= progressStep || (pct == 1 && p.last < 1) {
			p.last = pct
			p.progress(pct)
		}
	}
	return n, err
}

// transfer downloads url into a temp file inside dir. cancelled reports
// whether the caller asked for the transfer to stop; it is consulted instead
// of inspecting the transport error.
func transfer(ctx context.Context, client *http.Client, url, dir string, cancelled func() bool, progress func(float64)) transferResult {
	fail := func(err error) transferResult {
		if cancelled() {
			return transferResult{outcome: outcomeCancelled, err: err}
		}
		return transferResult{outcome: outcomeFailed, err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(fmt.Errorf("build request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("download: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("download: %s", resp.Status))
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(fmt.Errorf("create model dir: %w", err))
	}
	// Same directory as the destination keeps the install a rename.
	tmpFile, err := os.CreateTemp(dir, ".ggml-*.download")
	if err != nil {
		return fail(fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	src := &progressReader{r: resp.Body, total: resp.ContentLength, progress: progress}
	if _, err := io.Copy(tmpFile, src); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fail(fmt.Errorf("write model: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fail(fmt.Errorf("write model: %w", err))
	}
	if cancelled() {
		os.Remove(tmpPath)
		return transferResult{outcome: outcomeCancelled}
	}

	expected := resp.ContentLength
	if expected < 0 {
		expected = -1
	}
	return transferResult{outcome: outcomeCompleted, tmpPath: tmpPath, expected: expected}
}

// install moves a completed download into place. The old file is removed
// before the move so a failure leaves either nothing or a complete file.
func install(tmpPath, dest string, expected int64) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous model: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("verify model: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return fmt.Errorf("verify model: installed file is empty")
	}
	if expected > 0 && info.Size() != expected {
		os.Remove(dest)
		return fmt.Errorf("verify model: size %d, want %d", info.Size(), expected)
	}
	return nil
}
