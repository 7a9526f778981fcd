// Package file is a block source backed by a directory of raw serialized blocks.
//
// Blocks are stored as <dir>/<first two hash chars>/<hash>.block, where <hash> is the
// block hash in its usual reversed hex form. With ?checksum=true in the store URL every
// block gets a <hash>.block.sha256 file in sha256sum format, which is verified on read.
package file

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/model"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/ordishs/go-utils"
)

const (
	blockExtension    = ".block"
	checksumExtension = ".sha256"
	headerSize        = 80
)

// fileSemaphore bounds the number of files open at once across all stores.
var fileSemaphore = make(chan struct{}, 256)

type File struct {
	path     string
	logger   ulogger.Logger
	checksum bool
}

// New opens the store at storeURL, e.g. file:///data/blocks?checksum=true. The directory
// is created when it does not exist.
func New(logger ulogger.Logger, storeURL *url.URL) (*File, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("[File] storeURL is nil")
	}

	if storeURL.Scheme != "file" {
		return nil, errors.NewConfigurationError("[File] unsupported scheme %q", storeURL.Scheme)
	}

	path := storeURL.Path
	if storeURL.Host == "." {
		// file://./blocks is relative to the working directory
		path = "." + path
	}

	if path == "" {
		return nil, errors.NewConfigurationError("[File] no directory in %s", storeURL)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.NewStorageError("[File] failed to create directory %s", path, err)
	}

	return &File{
		path:     path,
		logger:   logger.New("file"),
		checksum: storeURL.Query().Get("checksum") == "true",
	}, nil
}

func (s *File) filename(hash *chainhash.Hash) string {
	key := utils.ReverseAndHexEncodeSlice(hash[:])

	return filepath.Join(s.path, key[:2], key+blockExtension)
}

func acquire() func() {
	fileSemaphore <- struct{}{}

	return func() {
		<-fileSemaphore
	}
}

// Put writes block. A block that is already stored is left untouched.
func (s *File) Put(ctx context.Context, block *model.Block) error {
	if err := ctx.Err(); err != nil {
		return errors.NewContextCanceledError("[File][Put] context done", err)
	}

	defer acquire()()

	filename := s.filename(block.Hash())

	if _, err := os.Stat(filename); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return errors.NewStorageError("[File][Put] [%s] failed to create directory", block.Hash(), err)
	}

	randNum, err := rand.Int(rand.Reader, big.NewInt(1<<63-1))
	if err != nil {
		return errors.NewStorageError("[File][Put] failed to generate random number", err)
	}

	tmpFilename := fmt.Sprintf("%s.%d.tmp", filename, randNum)

	data := block.Bytes()

	//nolint:gosec // blocks are public data
	if err = os.WriteFile(tmpFilename, data, 0644); err != nil {
		return errors.NewStorageError("[File][Put] [%s] failed to write file", filename, err)
	}

	if err = os.Rename(tmpFilename, filename); err != nil {
		_ = os.Remove(tmpFilename)

		if _, statErr := os.Stat(filename); statErr != nil {
			return errors.NewStorageError("[File][Put] [%s] failed to rename file from tmp", filename, err)
		}

		s.logger.Warnf("[File][Put] [%s] already exists so another process created it first", filename)
	}

	if s.checksum {
		if err = s.writeHashFile(data, filename); err != nil {
			return err
		}
	}

	return nil
}

func (s *File) writeHashFile(data []byte, filename string) error {
	sum := sha256.Sum256(data)

	// Format: "<hash>  <file name>\n", the two spaces keep it readable by sha256sum
	hashStr := fmt.Sprintf("%x  %s\n", sum, filepath.Base(filename))

	hashFilename := filename + checksumExtension
	tmpHashFilename := hashFilename + ".tmp"

	//nolint:gosec // checksums are public data
	if err := os.WriteFile(tmpHashFilename, []byte(hashStr), 0644); err != nil {
		return errors.NewStorageError("[File] failed to write hash file", err)
	}

	if err := os.Rename(tmpHashFilename, hashFilename); err != nil {
		return errors.NewStorageError("[File] failed to rename hash file", err)
	}

	return nil
}

func (s *File) verifyChecksum(data []byte, filename string) error {
	content, err := os.ReadFile(filename + checksumExtension)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warnf("[File] no checksum for %s", filename)
			return nil
		}

		return errors.NewStorageError("[File] failed to read checksum of %s", filename, err)
	}

	fields := strings.Fields(string(content))
	if len(fields) == 0 {
		return errors.NewStorageError("[File] empty checksum file for %s", filename)
	}

	expected, err := hex.DecodeString(fields[0])
	if err != nil {
		return errors.NewStorageError("[File] invalid checksum file for %s", filename, err)
	}

	if sum := sha256.Sum256(data); !bytes.Equal(sum[:], expected) {
		return errors.NewStorageError("[File] checksum mismatch for %s", filename)
	}

	return nil
}

// GetBlock reads and parses the block stored under hash. A block that is not stored is
// reported as missing data.
func (s *File) GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewContextCanceledError("[File][GetBlock] context done", err)
	}

	defer acquire()()

	filename := s.filename(hash)

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewMissingDataError("[File][GetBlock] block %s not available", hash)
		}

		return nil, errors.NewStorageError("[File][GetBlock] [%s] failed to read file", filename, err)
	}

	if s.checksum {
		if err = s.verifyChecksum(data, filename); err != nil {
			return nil, err
		}
	}

	block, err := model.NewBlockFromBytes(data)
	if err != nil {
		return nil, errors.NewStorageError("[File][GetBlock] [%s] failed to parse block", filename, err)
	}

	if !block.Hash().IsEqual(hash) {
		return nil, errors.NewStorageError("[File][GetBlock] file %s holds block %s", filename, block.Hash())
	}

	return block, nil
}

func (s *File) Exists(_ context.Context, hash *chainhash.Hash) (bool, error) {
	_, err := os.Stat(s.filename(hash))
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, errors.NewStorageError("[File][Exists] failed to stat block %s", hash, err)
}

// Del removes a block and its checksum.
func (s *File) Del(_ context.Context, hash *chainhash.Hash) error {
	filename := s.filename(hash)

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return errors.NewStorageError("[File][Del] [%s] failed to remove file", filename, err)
	}

	_ = os.Remove(filename + checksumExtension)

	return nil
}

// Headers reads the header of every stored block, in no particular order.
func (s *File) Headers(ctx context.Context) ([]*model.BlockHeader, error) {
	var headers []*model.BlockHeader

	err := filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return errors.NewContextCanceledError("[File][Headers] context done", ctx.Err())
		}

		if d.IsDir() || !strings.HasSuffix(path, blockExtension) {
			return nil
		}

		header, err := readHeader(path)
		if err != nil {
			return err
		}

		headers = append(headers, header)

		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrContextCanceled) {
			return nil, err
		}

		return nil, errors.NewStorageError("[File][Headers] failed to read %s", s.path, err)
	}

	s.logger.Debugf("[File][Headers] read %d headers from %s", len(headers), s.path)

	return headers, nil
}

func readHeader(path string) (*model.BlockHeader, error) {
	defer acquire()()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	buf := make([]byte, headerSize)

	if _, err = io.ReadFull(bufio.NewReader(f), buf); err != nil {
		return nil, errors.NewStorageError("[File] [%s] is too short for a block header", path, err)
	}

	return model.NewBlockHeaderFromBytes(buf)
}
