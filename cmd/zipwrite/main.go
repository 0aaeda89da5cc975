// Command zipwrite walks a directory tree and streams it into a single
// ZIP archive using the zipwriter package. It exists mainly as a
// reference driver for the library: a small, real consumer that
// exercises CreateHeader, SetMode, and Finish against the filesystem.
package main

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"

	"github.com/birchwood-dev/zipwriter/zipwriter"
)

func main() {
	app := &cli.App{
		Name:  "zipwrite",
		Usage: "stream a directory tree into a ZIP archive",
		Commands: []*cli.Command{
			archiveCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "zipwrite: %s\n", err)
		os.Exit(1)
	}
}

var archiveCmd = &cli.Command{
	Name:  "archive",
	Usage: "archive SRC_DIR DEST.zip",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "method",
			Usage: "compression method for every entry: deflate or store",
			Value: "deflate",
		},
		&cli.IntFlag{
			Name:  "level",
			Usage: "deflate compression level (-2..9, see compress/flate)",
			Value: -1,
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "IANA charset used for entry names and comments",
			Value: "UTF-8",
		},
		&cli.StringFlag{
			Name:  "comment",
			Usage: "archive-level comment",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "log every entry as it is written",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return cli.Exit("usage: zipwrite archive SRC_DIR DEST.zip", 1)
		}
		logLevel := slog.LevelInfo
		if !cctx.Bool("verbose") {
			logLevel = slog.LevelWarn
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

		return runArchive(cctx.Context, logger, archiveOptions{
			srcDir:   cctx.Args().Get(0),
			destPath: cctx.Args().Get(1),
			method:   cctx.String("method"),
			level:    cctx.Int("level"),
			encoding: cctx.String("encoding"),
			comment:  cctx.String("comment"),
		})
	},
}

type archiveOptions struct {
	srcDir   string
	destPath string
	method   string
	level    int
	encoding string
	comment  string
}

func runArchive(ctx context.Context, logger *slog.Logger, opt archiveOptions) error {
	method, err := parseMethod(opt.method)
	if err != nil {
		return err
	}

	dest, err := os.Create(opt.destPath)
	if err != nil {
		return fmt.Errorf("zipwrite: create %s: %w", opt.destPath, err)
	}
	defer dest.Close()

	w := zipwriter.NewWriter(dest)
	if err := w.SetDefaultMethod(method); err != nil {
		return fmt.Errorf("zipwrite: %w", err)
	}
	if err := w.SetDefaultLevel(opt.level); err != nil {
		return fmt.Errorf("zipwrite: %w", err)
	}
	if err := w.SetEncoding(opt.encoding); err != nil {
		return fmt.Errorf("zipwrite: %w", err)
	}
	if opt.comment != "" {
		if err := w.SetComment(opt.comment); err != nil {
			return fmt.Errorf("zipwrite: %w", err)
		}
	}

	count := 0
	walkErr := filepath.WalkDir(opt.srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(opt.srcDir, path)
		if err != nil {
			return err
		}
		if err := addFile(w, method, path, filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("zipwrite: %s: %w", rel, err)
		}
		count++
		logger.Info("archived entry", "name", rel)
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := w.Finish(); err != nil {
		return fmt.Errorf("zipwrite: finish: %w", err)
	}
	logger.Info("archive complete", "entries", count, "dest", opt.destPath)
	return nil
}

func addFile(w *zipwriter.Writer, method zipwriter.Method, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	fh := &zipwriter.FileHeader{
		Name:     name,
		Modified: info.ModTime(),
		Method:   &method,
	}
	fh.SetMode(info.Mode())

	if method == zipwriter.Store {
		size, crc, err := storeMetadata(path)
		if err != nil {
			return err
		}
		fh.Size = &size
		fh.CRC32 = &crc
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	entry, err := w.CreateHeader(fh)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, src)
	return err
}

// storeMetadata precomputes the declared size and CRC-32 a Store entry
// must carry in its local header: unlike Deflate, Store has no trailing
// data descriptor to fill these in after the fact, so it must read the
// file twice.
func storeMetadata(path string) (size uint64, crc uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return uint64(n), h.Sum32(), nil
}

func parseMethod(s string) (zipwriter.Method, error) {
	switch s {
	case "deflate", "":
		return zipwriter.Deflate, nil
	case "store":
		return zipwriter.Store, nil
	default:
		return 0, errors.New("zipwrite: unknown method " + s + " (want deflate or store)")
	}
}
