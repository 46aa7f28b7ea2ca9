package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/avlachos/conclave/internal/config"
)

// A backup archive holds two top-level trees: "store" (the SQLite database)
// and "nats" (the JetStream data dir). Entry names always use that prefix so
// restore knows where each file belongs regardless of the configured paths.
type backupTarget struct {
	prefix string
	path   string
}

func backupTargets(cfg *config.Config) []backupTarget {
	return []backupTarget{
		{prefix: "store", path: cfg.Store.Path},
		{prefix: "nats", path: cfg.NATS.DataDir},
	}
}

func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: conclave backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	written := 0
	for _, t := range backupTargets(cfg) {
		n, err := archiveTarget(tw, t)
		if err != nil {
			return fmt.Errorf("archive %s: %w", t.prefix, err)
		}
		written += n
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d files, %s\n", written, formatSize(size))
	return nil
}

// archiveTarget writes one target into the tar stream. A file target becomes
// a single entry under its prefix; a directory target is walked recursively.
// Missing targets are skipped, a fresh install has nothing to save yet.
func archiveTarget(tw *tar.Writer, t backupTarget) (int, error) {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		if err := archiveFile(tw, t.path, path.Join(t.prefix, filepath.Base(t.path)), info); err != nil {
			return 0, err
		}
		return 1, nil
	}

	count := 0
	err = filepath.WalkDir(t.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(t.path, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := archiveFile(tw, p, path.Join(t.prefix, filepath.ToSlash(rel)), fi); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func archiveFile(tw *tar.Writer, src, name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: conclave restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dests := restoreDests(cfg)

	if !overwrite {
		if _, err := os.Stat(cfg.Store.Path); err == nil {
			return fmt.Errorf("store %s already exists, add -overwrite to replace files", cfg.Store.Path)
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	restored, err := extractArchive(tar.NewReader(zr), dests)
	if err != nil {
		return err
	}

	fmt.Printf("Restore complete: %d files\n", restored)
	return nil
}

func restoreDests(cfg *config.Config) map[string]string {
	return map[string]string{
		"store": filepath.Dir(cfg.Store.Path),
		"nats":  cfg.NATS.DataDir,
	}
}

func extractArchive(tr *tar.Reader, dests map[string]string) (int, error) {
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("read tar entry: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}

		prefix, rel := splitArchivePath(hdr.Name)
		dest, ok := dests[prefix]
		if !ok || rel == "" {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return restored, fmt.Errorf("unsafe path in archive: %s", hdr.Name)
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
		if err != nil {
			return restored, err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return restored, fmt.Errorf("write %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// splitArchivePath splits "store/conclave.db" into ("store", "conclave.db").
// Returns an empty prefix for entries outside the known trees.
func splitArchivePath(name string) (prefix, rel string) {
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "", ""
	}
	return name[:idx], name[idx+1:]
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
