// internal/github/archive.go
package github

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v62/github"
)

// tempDirPrefix marks scan download directories so stray ones are
// recognizable in the temp filesystem.
const tempDirPrefix = "gha_scan_"

// DownloadArchive downloads the source archive for owner/repo at ref
// and extracts it into a fresh temporary directory. It returns the path
// of the extracted action tree and a cleanup function that removes the
// whole temporary directory; cleanup is safe to call on every exit
// path, including after a partial failure.
func (c *Client) DownloadArchive(ctx context.Context, owner, repo, ref string) (string, func(), error) {
	tempDir, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	c.logger.Info("Downloading action archive", "owner", owner, "repo", repo, "ref", ref)

	var archiveURL string
	err = c.withRetry(ctx, func() error {
		u, _, err := c.gh.Repositories.GetArchiveLink(ctx, owner, repo, github.Zipball,
			&github.RepositoryContentGetOptions{Ref: ref}, 3)
		if err != nil {
			return err
		}
		archiveURL = u.String()
		return nil
	})
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to locate archive for %s/%s@%s: %w", owner, repo, ref, err)
	}

	zipPath := filepath.Join(tempDir, "action.zip")
	if err := c.fetchToFile(ctx, archiveURL, zipPath); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to download archive: %w", err)
	}

	if err := extractZip(zipPath, tempDir); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to extract archive: %w", err)
	}

	// The archive unpacks into a single <repo>-<sha> directory.
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		cleanup()
		return "", func() {}, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(tempDir, entry.Name()), cleanup, nil
		}
	}

	cleanup()
	return "", func() {}, fmt.Errorf("archive for %s/%s@%s contained no directories", owner, repo, ref)
}

func (c *Client) fetchToFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// extractZip unpacks archive into destDir, refusing entries that would
// escape it.
func extractZip(archive, destDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, file := range r.File {
		target := filepath.Join(destDir, file.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := file.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		dst.Close()
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
