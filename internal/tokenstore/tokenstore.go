// Package tokenstore はベアラートークンのローカル永続化を提供する。
// 単一の既知のファイルに保存し、サインアウトまたは認可エラー時に破棄する。
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound は保存済みの認証情報が存在しないことを示す。
var ErrNotFound = errors.New("保存済みの認証情報がありません")

// Credential は永続化する認証情報を表す。
type Credential struct {
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store は認証情報の永続化インターフェース。
type Store interface {
	// Save は認証情報を保存する。既存の内容は上書きされる。
	Save(cred Credential) error
	// Load は保存済みの認証情報を読み込む。存在しない場合はErrNotFoundを返す。
	Load() (Credential, error)
	// Clear は保存済みの認証情報を破棄する。存在しない場合も成功扱い。
	Clear() error
}

// FileStore は単一ファイルに認証情報を永続化するStore実装。
// 書き込みは一時ファイル経由のアトミックな置き換えで行い、
// パーミッション0600で他ユーザーからの読み取りを防ぐ。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore はFileStoreを生成する。保存先ディレクトリは存在しなければ作成する。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("トークン保存先のパスが指定されていません")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("トークン保存先ディレクトリの作成に失敗しました: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save は認証情報をJSONとしてアトミックに書き込む。
func (s *FileStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("認証情報のエンコードに失敗しました: %w", err)
	}

	// 一時ファイルに書いてからrenameすることで部分書き込みを防ぐ
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("認証情報の書き込みに失敗しました: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("認証情報ファイルの置き換えに失敗しました: %w", err)
	}
	return nil
}

// Load は保存済みの認証情報を読み込む。
func (s *FileStore) Load() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("認証情報の読み込みに失敗しました: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(b, &cred); err != nil {
		return Credential{}, fmt.Errorf("認証情報のデコードに失敗しました: %w", err)
	}
	if cred.IDToken == "" {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

// Clear は認証情報ファイルを削除する。
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("認証情報の破棄に失敗しました: %w", err)
	}
	return nil
}

// MemoryStore はテスト用のインメモリStore実装。
type MemoryStore struct {
	mu    sync.Mutex
	cred  Credential
	saved bool
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save は認証情報をメモリに保持する。
func (s *MemoryStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.saved = true
	return nil
}

// Load は保持中の認証情報を返す。
func (s *MemoryStore) Load() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return Credential{}, ErrNotFound
	}
	return s.cred, nil
}

// Clear は保持中の認証情報を破棄する。
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.saved = false
	return nil
}

// compile-time interface checks
var _ Store = (*FileStore)(nil)
var _ Store = (*MemoryStore)(nil)
