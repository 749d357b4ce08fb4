package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// blobStore 以 sha256(url) 作为文件名保存正文，磁盘布局：
//
//	<StoragePath>/blobs/<key[0:2]>/<key>
//
// 写入通过临时文件 + rename 保证读者不会看到半写入的正文；并发控制由调用方的 keyLocks 负责。
type blobStore struct {
	basePath string
}

func newBlobStore(storagePath string) (*blobStore, error) {
	if storagePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(storagePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	base := filepath.Join(abs, "blobs")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &blobStore{basePath: base}, nil
}

// blobKey 返回 URL 对应的内容寻址键。
func blobKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (s *blobStore) read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *blobStore) write(ctx context.Context, key string, payload []byte) (int64, error) {
	filePath, err := s.path(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return 0, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".blob-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, bytes.NewReader(payload))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func (s *blobStore) remove(key string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *blobStore) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	filePath := filepath.Join(s.basePath, key[:2], key)
	if !strings.HasPrefix(filePath, s.basePath) {
		return "", errors.New("invalid blob path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
