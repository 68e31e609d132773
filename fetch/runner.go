package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"batchdl/config"
	"batchdl/queue"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// Media is a downloadable item: a source URL plus an optional display name.
// Its URL doubles as the task identifier.
type Media struct {
	URL  string `json:"url" binding:"required"`
	Name string `json:"name,omitempty"`
}

func (m Media) Key() string { return m.URL }

func (m Media) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.URL
}

// Runner implements the execute-operation contract for Media items. It
// either streams the URL to a file itself or delegates to an external
// command built from a validated template.
type Runner struct {
	cfg     *config.Config
	client  *http.Client
	cmdArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create output directory: %w", err)
	}

	var cmdArgs []string
	if cfg.FetchCommand != "" {
		args, err := SplitCommand(cfg.FetchCommand)
		if err != nil {
			return nil, err
		}
		if err := ValidateCommandTemplate(args); err != nil {
			return nil, err
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			return nil, fmt.Errorf("fetch binary not found in PATH: %s", args[0])
		}
		cmdArgs = args
		logrus.WithField("command", args[0]).Info("Fetches delegated to external command")
	}

	return &Runner{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		cmdArgs: cmdArgs,
	}, nil
}

// Execute satisfies queue.ExecuteFunc. It returns the path of the fetched
// artifact.
func (r *Runner) Execute(ctx context.Context, item queue.Item) (string, error) {
	media, ok := item.(Media)
	if !ok {
		return "", fmt.Errorf("unsupported item type %T", item)
	}

	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	outputPath := filepath.Join(r.cfg.OutputDir, outputFilename(media))
	if r.cmdArgs != nil {
		return outputPath, r.runCommand(ctx, media, outputPath)
	}
	return outputPath, r.download(ctx, media, outputPath)
}

// outputFilename derives a local file name from the media, preferring the
// last URL path segment.
func outputFilename(media Media) string {
	if u, err := url.Parse(media.URL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return filepath.Base(base)
		}
	}
	if media.Name != "" {
		return filepath.Base(media.Name)
	}
	return "download"
}

func (r *Runner) download(ctx context.Context, media Media, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.URL, nil)
	if err != nil {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file, status: %s", resp.Status)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	// A LimitedReader enforces the max fetch size.
	limited := &io.LimitedReader{R: resp.Body, N: r.cfg.MaxFetchSize + 1}
	written, err := io.Copy(out, limited)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > r.cfg.MaxFetchSize {
		err = fmt.Errorf("file size exceeds limit of %d bytes", r.cfg.MaxFetchSize)
	}
	if err != nil {
		os.Remove(outputPath)
		return err
	}

	logrus.WithFields(logrus.Fields{"item": media.DisplayName(), "bytes": written}).Debug("Fetched to file")
	return nil
}

func (r *Runner) runCommand(ctx context.Context, media Media, outputPath string) error {
	args := make([]string, len(r.cmdArgs))
	for i, arg := range r.cmdArgs {
		arg = strings.ReplaceAll(arg, URLPlaceholder, media.URL)
		arg = strings.ReplaceAll(arg, OutputPlaceholder, outputPath)
		args[i] = arg
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	logrus.WithField("item", media.DisplayName()).Debugf("Executing: %s", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("fetch command failed: %w: %s", err, lastLine(output.String()))
	}
	return nil
}

// lastLine trims command output down to its final non-empty line, which is
// usually the actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

// checkResources verifies the host has enough headroom to start a new
// transfer. Thresholds set to zero are not checked.
func (r *Runner) checkResources() error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			logrus.Warnf("Could not get CPU usage: %v", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU: current usage %.2f%%, idle threshold %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			logrus.Warnf("Could not get memory usage: %v", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(r.cfg.OutputDir)
		if err != nil {
			logrus.Warnf("Could not get disk usage for %s: %v", r.cfg.OutputDir, err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
