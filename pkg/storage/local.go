package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	base := cfg.Path
	if base == "" {
		base = "."
	}

	// 确保路径是绝对路径
	absPath, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %v", err)
	}

	// 确保目录存在
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return &LocalStorage{
		basePath: absPath,
	}, nil
}

// Put 写入文件，先写临时文件再重命名，避免读到半个文件
func (s *LocalStorage) Put(ctx context.Context, key string, reader io.Reader) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	filePath, key, err := s.resolve(key)
	if err != nil {
		return FileInfo{}, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %v", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %v", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return FileInfo{}, fmt.Errorf("failed to write file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("failed to write file: %v", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return FileInfo{}, fmt.Errorf("failed to move file into place: %v", err)
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat file: %v", err)
	}

	return FileInfo{
		Key:      key,
		Size:     size,
		MimeType: getMimeType(key),
		Modified: stat.ModTime(),
	}, nil
}

// Get 获取文件内容
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, key, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %v", err)
	}

	return file, nil
}

// Delete 删除文件
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, key, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to delete file: %v", err)
	}

	return nil
}

// List 列出前缀下的所有文件，按键排序
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := []FileInfo{}
	err := filepath.Walk(s.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// 跳过目录和未完成的临时文件
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}

		relPath, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		files = append(files, FileInfo{
			Key:      key,
			Size:     info.Size(),
			MimeType: getMimeType(key),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %v", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Key < files[j].Key
	})
	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	filePath, _, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// Path 返回对象在本地文件系统中的路径
func (s *LocalStorage) Path(key string) (string, error) {
	filePath, _, err := s.resolve(key)
	return filePath, err
}

// resolve 将对象键转换为文件路径
func (s *LocalStorage) resolve(key string) (string, string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleaned)), cleaned, nil
}
