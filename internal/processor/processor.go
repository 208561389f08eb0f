package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker/domain"
)

// Config holds conversion tool and workspace settings.
type Config struct {
	WorkDir      string
	CleanupFiles bool
	Binary       string
	ExtraArgs    []string
	TailLines    int
	ProbeTimeout time.Duration
}

// Processor materializes a job's input locally, runs the external
// conversion tool, and pushes the outputs back to durable storage.
type Processor struct {
	blob   BlobClient
	cfg    Config
	logger *slog.Logger
}

// New creates a Processor.
func New(blob BlobClient, cfg Config, logger *slog.Logger) *Processor {
	if cfg.TailLines <= 0 {
		cfg.TailLines = 20
	}
	return &Processor{
		blob:   blob,
		cfg:    cfg,
		logger: logger,
	}
}

// Process runs one job end to end: download, convert, verify, upload. The
// workspace is released on every exit path when cleanup is enabled; with
// cleanup disabled it is retained for operator debugging.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (*domain.ProcessingResult, error) {
	ws, err := NewWorkspace(p.cfg.WorkDir, job.JobID)
	if err != nil {
		return nil, err
	}

	result, err := p.run(ctx, job, ws)
	p.release(ws, err != nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) run(ctx context.Context, job *domain.Job, ws *Workspace) (*domain.ProcessingResult, error) {
	inputPath := filepath.Join(ws.InputDir, filepath.Base(job.InputKey))

	p.logger.Info("Downloading input file",
		slog.String("job_id", job.JobID),
		slog.String("s3_path", fmt.Sprintf("s3://%s/%s", job.DataBucket, job.InputKey)),
	)

	downloadStart := time.Now()
	size, err := p.blob.Download(ctx, job.DataBucket, job.InputKey, inputPath)
	if err != nil {
		return nil, err
	}
	downloadTime := time.Since(downloadStart)

	if size == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", domain.ErrEmptyInput, job.DataBucket, job.InputKey)
	}

	p.logger.Info("Input file downloaded",
		slog.String("job_id", job.JobID),
		slog.Int64("file_size", size),
		slog.Duration("download_time", downloadTime),
	)

	convertStart := time.Now()
	report, err := p.runTool(ctx, inputPath, ws.OutputDir)
	if err != nil {
		return nil, err
	}
	convertTime := time.Since(convertStart)

	outputs, err := ws.OutputFiles()
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, domain.ErrNoOutput
	}

	p.logger.Info("Conversion finished",
		slog.String("job_id", job.JobID),
		slog.Duration("processing_time", convertTime),
		slog.Int("output_files", len(outputs)),
		slog.Int("pages", report.pages),
	)

	uploadStart := time.Now()
	uploaded, err := p.uploadOutputs(ctx, job, ws, outputs)
	if err != nil {
		return nil, err
	}
	uploadTime := time.Since(uploadStart)

	p.logger.Info("Results uploaded",
		slog.String("job_id", job.JobID),
		slog.Int("uploaded_count", len(uploaded)),
		slog.Duration("upload_time", uploadTime),
	)

	return &domain.ProcessingResult{
		Status:              "success",
		InputFile:           fmt.Sprintf("s3://%s/%s", job.DataBucket, job.InputKey),
		OutputFiles:         uploaded,
		FileSize:            size,
		PagesProcessed:      report.pages,
		ProcessingTime:      convertTime.Seconds(),
		DownloadTime:        downloadTime.Seconds(),
		UploadTime:          uploadTime.Seconds(),
		TotalFilesGenerated: len(uploaded),
	}, nil
}

// maxToolLineLen bounds how much of one output line is kept for the log
// and the diagnostic tail.
const maxToolLineLen = 64 * 1024

// toolReport carries what the tool run itself yielded.
type toolReport struct {
	pages int
}

// runTool invokes the conversion binary as a blocking subprocess, streaming
// merged stdout/stderr into the log line by line. A non-zero exit surfaces
// as a ToolError carrying the output tail.
func (p *Processor) runTool(ctx context.Context, inputPath, outputDir string) (toolReport, error) {
	args := append([]string{"-p", inputPath, "-o", outputDir, "-m", "auto"}, p.cfg.ExtraArgs...)
	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Dir = p.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return toolReport{}, fmt.Errorf("failed to open tool output pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	p.logger.Info("Running conversion tool",
		slog.String("binary", p.cfg.Binary),
		slog.String("args", strings.Join(args, " ")),
	)

	if err := cmd.Start(); err != nil {
		return toolReport{}, fmt.Errorf("failed to start conversion tool: %w", err)
	}

	// The pipe must be drained to EOF before Wait, whatever the tool
	// writes; an unread pipe blocks the child. Lines of any length are
	// consumed whole and truncated for the log and tail.
	var lines []string
	reader := bufio.NewReader(stdout)
	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if len(line) > maxToolLineLen {
				line = line[:maxToolLineLen] + " [truncated]"
			}
			lines = append(lines, line)
			p.logger.Info("Tool output", slog.String("line", line))
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				p.logger.Warn("Tool output read failed",
					slog.String("error", readErr.Error()),
				)
			}
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return toolReport{}, &domain.ToolError{
				ExitCode: exitErr.ExitCode(),
				Tail:     tail(lines, p.cfg.TailLines),
			}
		}
		return toolReport{}, fmt.Errorf("conversion tool did not run: %w", err)
	}

	return toolReport{pages: extractPageCount(lines)}, nil
}

func (p *Processor) uploadOutputs(ctx context.Context, job *domain.Job, ws *Workspace, outputs []string) ([]domain.OutputFile, error) {
	uploaded := make([]domain.OutputFile, 0, len(outputs))

	for _, rel := range outputs {
		path := filepath.Join(ws.OutputDir, rel)
		key := job.OutputPrefix + filepath.ToSlash(rel)
		contentType := contentTypeFor(path)

		size, err := fileSize(path)
		if err != nil {
			return nil, err
		}

		err = p.blob.Upload(ctx, job.DataBucket, key, path, contentType, map[string]string{
			"job-id":        job.JobID,
			"original-name": sanitizeASCII(filepath.Base(path)),
			"content-type":  contentType,
		})
		if err != nil {
			return nil, err
		}

		uploaded = append(uploaded, domain.OutputFile{
			FileName: filepath.Base(path),
			FileType: filepath.Ext(path),
			S3URL:    fmt.Sprintf("s3://%s/%s", job.DataBucket, key),
			Size:     size,
		})

		p.logger.Debug("Artifact uploaded",
			slog.String("job_id", job.JobID),
			slog.String("s3_key", key),
			slog.Int64("size", size),
		)
	}

	return uploaded, nil
}

// release applies the cleanup policy. The failure branch never surfaces an
// error; a leaked workspace is logged and left to the operator.
func (p *Processor) release(ws *Workspace, failed bool) {
	if !p.cfg.CleanupFiles {
		p.logger.Info("Workspace retained for debugging",
			slog.String("job_id", ws.JobID),
			slog.String("dir", ws.Dir),
		)
		return
	}

	if err := ws.Remove(); err != nil {
		p.logger.Warn("Workspace cleanup failed",
			slog.String("job_id", ws.JobID),
			slog.String("dir", ws.Dir),
			slog.Bool("after_failure", failed),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Info("Workspace released",
		slog.String("job_id", ws.JobID),
	)
}

// Probe verifies the conversion binary responds, with a bounded wait. Used
// by the readiness check.
func (p *Processor) Probe(ctx context.Context) error {
	timeout := p.cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, p.cfg.Binary, "--help")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("conversion tool unavailable: %w", err)
	}
	return nil
}

var pageCountRe = regexp.MustCompile(`\d+`)

// extractPageCount scans the tool output for a line mentioning pages and
// takes its first integer. Zero when no such line exists.
func extractPageCount(lines []string) int {
	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), "pages") {
			continue
		}
		if m := pageCountRe.FindString(line); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				return n
			}
		}
	}
	return 0
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// sanitizeASCII strips non-ASCII runes; S3 object metadata values must be
// ASCII.
func sanitizeASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
