package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
	"github.com/alosarv/hydra/sharedfile"
)

// downloadChunkSize is the chunk size used for the data this command feeds
// into the PartData it creates. There is no canonical default in the
// source - every caller picks one - so this is just a reasonable size for
// manual testing from the command line.
const downloadChunkSize = 1 << 20

var downloadCmd = &cobra.Command{
	Use:   "download <dest-dir> <size> <hash-set-file>",
	Short: "Create a download and feed it data from stdin, for manual testing",
	Long: "Creates a PartData of the given size under --dir, registers the per-chunk " +
		"hash set read from hash-set-file, then writes stdin into it chunk by chunk, " +
		"exercising the same getRange/getLock/write path a peer connection would.",
	Run: wrap(downloadcmd),
}

func downloadcmd(destDir, sizeArg, hashSetFile string) {
	size, err := strconv.ParseUint(sizeArg, 10, 64)
	if err != nil {
		die("invalid size:", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		die("could not create data directory:", err)
	}
	if err := os.MkdirAll(destDir, 0700); err != nil {
		die("could not create destination directory:", err)
	}

	iot := iothread.New(nil, 0, 0)
	defer iot.Close()

	fl, err := sharedfile.NewFilesList(iot, sharedfile.NewMemMetaDb(), filepath.Join(dataDir, "fileslist.db"))
	if err != nil {
		die("could not open files list:", err)
	}
	defer fl.Close()

	location := filepath.Join(dataDir, "download.part")
	destination := filepath.Join(destDir, "download.bin")
	sf, err := fl.CreateDownload(location, destination, size, partdata.Config{})
	if err != nil {
		die("could not create download:", err)
	}
	pd := sf.PartData()

	hashes, err := readHashSetFile(hashSetFile)
	if err != nil {
		die("could not read hash set file:", err)
	}
	pd.AddHashSet(downloadChunkSize, hashes)

	feedFromStdin(pd, size)
}

// readHashSetFile parses a hash-set file of "<chunk index> <hex digest>"
// lines into the map AddHashSet expects.
func readHashSetFile(path string) (map[uint64]crypto.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hashes := make(map[uint64]crypto.Hash)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed hash set line: %q", line)
		}
		index, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk index in %q: %w", line, err)
		}
		raw, err := hex.DecodeString(fields[1])
		if err != nil || len(raw) != crypto.HashSize {
			return nil, fmt.Errorf("malformed digest in %q", line)
		}
		var h crypto.Hash
		copy(h[:], raw)
		hashes[index] = h
	}
	return hashes, scanner.Err()
}

// feedFromStdin reads size bytes from stdin, writing them into pd through
// the same getRange/getLock/write sequence a peer connection would use, and
// renders an mpb progress bar tracking pd.Downloaded() against size.
func feedFromStdin(pd *partdata.PartData, size uint64) {
	progress := mpb.New(mpb.WithWidth(60))
	bar := progress.AddBar(int64(size),
		mpb.PrependDecorators(decor.Name("downloading")),
		mpb.AppendDecorators(decor.Percentage()),
	)

	reader := bufio.NewReaderSize(os.Stdin, downloadChunkSize)
	var lastDownloaded uint64
	for pd.Downloaded() < size {
		ur, ok, err := pd.GetRange(downloadChunkSize, nil)
		if err != nil {
			die("getRange failed:", err)
		}
		if !ok {
			break
		}
		lr, err := ur.GetLock(0)
		if err != nil {
			ur.Release()
			die("getLock failed:", err)
		}

		rng := lr.Range()
		buf := make([]byte, rng.Length())
		n, err := io.ReadFull(reader, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			die("reading stdin failed:", err)
		}
		if n > 0 {
			if err := lr.Write(rng.Begin, buf[:n]); err != nil {
				die("write failed:", err)
			}
		}
		lr.Release()
		ur.Release()

		downloaded := pd.Downloaded()
		bar.IncrInt64(int64(downloaded - lastDownloaded))
		lastDownloaded = downloaded

		if n < len(buf) {
			break
		}
	}
	progress.Wait()
}
