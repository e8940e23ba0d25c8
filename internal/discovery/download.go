package discovery

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Download fetches one remote file into destDir, writing through a temp
// file so a dropped connection never leaves a truncated file in place.
func (p *Prober) Download(ctx context.Context, rf RemoteFile, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.fileURL(rf.Name), nil)
	if err != nil {
		return "", fmt.Errorf("error building request for %s: %w", rf.Name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error downloading %s: %w", rf.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error downloading %s: unexpected status %d", rf.Name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(destDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("error creating temp file for %s: %w", rf.Name, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("error writing %s: %w", rf.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("error closing %s: %w", rf.Name, err)
	}

	dest := filepath.Join(destDir, rf.Name)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("error placing %s: %w", rf.Name, err)
	}
	return dest, nil
}

// ExtractArchive unpacks the .txt members of a downloaded archive into
// destDir. Nested paths are flattened; the publisher ships flat archives.
func ExtractArchive(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("error opening archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	var extracted []string
	for _, member := range zr.File {
		name := filepath.Base(member.Name)
		if !strings.HasSuffix(strings.ToLower(name), ".txt") {
			log.Printf("WARN: Skipping non-text archive member %s in %s", member.Name, filepath.Base(archivePath))
			continue
		}

		src, err := member.Open()
		if err != nil {
			return extracted, fmt.Errorf("error opening member %s: %w", member.Name, err)
		}
		dest := filepath.Join(destDir, name)
		out, err := os.Create(dest)
		if err != nil {
			src.Close()
			return extracted, fmt.Errorf("error creating %s: %w", dest, err)
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			src.Close()
			return extracted, fmt.Errorf("error extracting %s: %w", member.Name, err)
		}
		out.Close()
		src.Close()
		extracted = append(extracted, dest)
	}
	return extracted, nil
}
