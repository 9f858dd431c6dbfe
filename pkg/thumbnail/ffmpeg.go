package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"capture-uploader/pkg/uploaderr"
)

const (
	Width         = 400
	DefaultOffset = 500 * time.Millisecond
)

type Generator interface {
	// Generate returns the path of a JPEG still taken from localUri at
	// atOffset, or "" when no thumbnail could be produced.
	Generate(ctx context.Context, localUri string, atOffset time.Duration) string
}

type ffmpeg struct {
	fs       afero.Fs
	execPath string
	outDir   string
}

// NewFFmpeg checks, stages and commits files through fs. The ffmpeg process
// writes the staged path itself, so fs must resolve paths like the OS does.
func NewFFmpeg(fs afero.Fs, execPath, outDir string) Generator {
	if execPath == "" {
		execPath = "ffmpeg"
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	return &ffmpeg{fs: fs, execPath: execPath, outDir: outDir}
}

func (f *ffmpeg) Generate(ctx context.Context, localUri string, atOffset time.Duration) string {
	out, err := f.extract(ctx, localUri, atOffset)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(errors.Join(uploaderr.ErrThumbnailGeneration, err)).Str("local_uri", localUri).Msg("thumbnail skipped")
		return ""
	}
	return out
}

func (f *ffmpeg) extract(ctx context.Context, localUri string, atOffset time.Duration) (string, error) {
	if _, err := f.fs.Stat(localUri); err != nil {
		return "", err
	}
	if err := f.fs.MkdirAll(f.outDir, os.ModePerm); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(localUri), filepath.Ext(localUri))
	final := filepath.Join(f.outDir, base+"_thumbnail.jpg")

	tmp, err := afero.TempFile(f.fs, f.outDir, base+"-*.jpg.part")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = f.fs.Remove(tmpPath) }()

	args := []string{
		"-ss", fmt.Sprintf("%.3f", atOffset.Seconds()),
		"-i", localUri,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", Width),
		"-q:v", "3",
		"-f", "image2",
		"-update", "1",
		"-y",
		tmpPath,
	}

	cmd := exec.CommandContext(ctx, f.execPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg execution failed: %w\nOutput: %s", err, string(output))
	}

	info, err := f.fs.Stat(tmpPath)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		return "", errors.New("ffmpeg produced an empty frame")
	}

	if err := f.fs.Rename(tmpPath, final); err != nil {
		return "", err
	}
	return final, nil
}
