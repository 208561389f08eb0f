package processor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker/domain"
)

type uploadCall struct {
	bucket      string
	key         string
	contentType string
	metadata    map[string]string
}

type fakeBlob struct {
	downloadContent []byte
	downloadErr     error
	uploadErr       error

	uploads []uploadCall
}

func (f *fakeBlob) Download(_ context.Context, _, _ string, destPath string) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	if err := os.WriteFile(destPath, f.downloadContent, 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.downloadContent)), nil
}

func (f *fakeBlob) Upload(_ context.Context, bucket, key, _ string, contentType string, metadata map[string]string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, uploadCall{
		bucket:      bucket,
		key:         key,
		contentType: contentType,
		metadata:    metadata,
	})
	return nil
}

// writeTool creates an executable shell script standing in for the
// conversion binary. The script receives -p <input> -o <output> -m auto.
func writeTool(t *testing.T, dir, script string) string {
	t.Helper()
	path := filepath.Join(dir, "tool.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testJob() *domain.Job {
	return &domain.Job{
		JobID:        "job-1",
		DataBucket:   "docs-bucket",
		InputKey:     "uploads/report.pdf",
		OutputPrefix: "results/job-1/",
	}
}

func newTestProcessor(blob BlobClient, cfg Config) *Processor {
	return New(blob, cfg, slog.New(slog.DiscardHandler))
}

func TestProcessor_Process_Success(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `
echo "Processing document"
echo "Processed 5 pages"
printf '# converted' > "$4/report.md"
printf '{}' > "$4/layout.json"
`)

	blob := &fakeBlob{downloadContent: []byte("%PDF-1.4 test content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	result, err := proc.Process(context.Background(), testJob())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "s3://docs-bucket/uploads/report.pdf", result.InputFile)
	assert.Equal(t, int64(len("%PDF-1.4 test content")), result.FileSize)
	assert.Equal(t, 5, result.PagesProcessed)
	assert.Equal(t, 2, result.TotalFilesGenerated)
	assert.Len(t, result.OutputFiles, 2)

	require.Len(t, blob.uploads, 2)
	keys := []string{blob.uploads[0].key, blob.uploads[1].key}
	assert.ElementsMatch(t, []string{"results/job-1/layout.json", "results/job-1/report.md"}, keys)

	for _, u := range blob.uploads {
		assert.Equal(t, "docs-bucket", u.bucket)
		assert.Equal(t, "job-1", u.metadata["job-id"])
		assert.NotEmpty(t, u.metadata["original-name"])
	}

	// Workspace removed on success when cleanup is enabled
	_, err = os.Stat(filepath.Join(workDir, "job-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_Process_EmptyInput(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `exit 0`)

	blob := &fakeBlob{downloadContent: nil}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Empty(t, blob.uploads)
}

func TestProcessor_Process_ToolFailure(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `
echo "loading model"
echo "fatal: unsupported encoding" >&2
exit 3
`)

	blob := &fakeBlob{downloadContent: []byte("content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
		TailLines:    5,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.Error(t, err)

	var toolErr *domain.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Contains(t, toolErr.Tail, "loading model")
	assert.Contains(t, toolErr.Tail, "fatal: unsupported encoding")
	assert.Empty(t, blob.uploads)
}

func TestProcessor_Process_OversizedOutputLine(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `
head -c 2097152 /dev/zero | tr '\0' 'x'
echo ""
i=0
while [ $i -lt 3000 ]; do echo "working"; i=$((i+1)); done
echo "Processed 2 pages"
printf 'out' > "$4/report.md"
`)

	blob := &fakeBlob{downloadContent: []byte("content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	// A single output line far beyond any read buffer must not wedge the
	// runner; the pipe is drained to EOF and the run completes.
	result, err := proc.Process(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesProcessed)
	require.Len(t, blob.uploads, 1)
}

func TestProcessor_Process_OversizedLineInFailureTail(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `
head -c 2097152 /dev/zero | tr '\0' 'x'
echo ""
exit 2
`)

	blob := &fakeBlob{downloadContent: []byte("content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.Error(t, err)

	var toolErr *domain.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 2, toolErr.ExitCode)
	require.NotEmpty(t, toolErr.Tail)
	for _, line := range toolErr.Tail {
		assert.LessOrEqual(t, len(line), maxToolLineLen+len(" [truncated]"))
	}
}

func TestProcessor_Process_NoOutput(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `exit 0`)

	blob := &fakeBlob{downloadContent: []byte("content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoOutput)
}

func TestProcessor_Process_CleanupDisabled(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `printf 'out' > "$4/report.md"`)

	blob := &fakeBlob{downloadContent: []byte("content")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: false,
		Binary:       tool,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.NoError(t, err)

	// Workspace retained for debugging
	_, err = os.Stat(filepath.Join(workDir, "job-1", "output", "report.md"))
	assert.NoError(t, err)
}

func TestProcessor_Process_DownloadError(t *testing.T) {
	workDir := t.TempDir()
	tool := writeTool(t, workDir, `exit 0`)

	blob := &fakeBlob{downloadErr: errors.New("access denied")}
	proc := newTestProcessor(blob, Config{
		WorkDir:      workDir,
		CleanupFiles: true,
		Binary:       tool,
	})

	_, err := proc.Process(context.Background(), testJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestProcessor_Probe(t *testing.T) {
	t.Run("binary responds", func(t *testing.T) {
		workDir := t.TempDir()
		tool := writeTool(t, workDir, `exit 0`)

		proc := newTestProcessor(&fakeBlob{}, Config{WorkDir: workDir, Binary: tool})
		assert.NoError(t, proc.Probe(context.Background()))
	})

	t.Run("binary missing", func(t *testing.T) {
		proc := newTestProcessor(&fakeBlob{}, Config{
			WorkDir: t.TempDir(),
			Binary:  "/nonexistent/tool",
		})
		assert.Error(t, proc.Probe(context.Background()))
	})
}

func TestExtractPageCount(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  int
	}{
		{
			name:  "pages line present",
			lines: []string{"loading model", "Processed 12 pages", "done"},
			want:  12,
		},
		{
			name:  "case insensitive",
			lines: []string{"Total Pages: 7"},
			want:  7,
		},
		{
			name:  "no pages line",
			lines: []string{"loading model", "done"},
			want:  0,
		},
		{
			name:  "empty output",
			lines: nil,
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractPageCount(tt.lines))
		})
	}
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	assert.Equal(t, []string{"c", "d"}, tail(lines, 2))
	assert.Equal(t, lines, tail(lines, 10))
	assert.Empty(t, tail(nil, 5))
}

func TestSanitizeASCII(t *testing.T) {
	assert.Equal(t, "report.pdf", sanitizeASCII("report.pdf"))
	assert.Equal(t, ".pdf", sanitizeASCII("报告.pdf"))
	assert.Equal(t, "caf.md", sanitizeASCII("café.md"))
}

func TestContentTypeFor(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		fileName string
		content  []byte
		want     string
	}{
		{name: "markdown", fileName: "doc.md", content: []byte("# heading"), want: "text/markdown"},
		{name: "json", fileName: "layout.JSON", content: []byte("{}"), want: "application/json"},
		{name: "png", fileName: "figure.png", content: []byte("binary"), want: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.fileName)
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))
			assert.Equal(t, tt.want, contentTypeFor(path))
		})
	}
}

func TestWorkspace(t *testing.T) {
	root := t.TempDir()

	ws, err := NewWorkspace(root, "job-7")
	require.NoError(t, err)

	assert.DirExists(t, ws.InputDir)
	assert.DirExists(t, ws.OutputDir)

	nested := filepath.Join(ws.OutputDir, "images")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.OutputDir, "report.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "fig1.png"), []byte("x"), 0o644))

	files, err := ws.OutputFiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"report.md", filepath.Join("images", "fig1.png")}, files)

	require.NoError(t, ws.Remove())
	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
}
