package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wonny/autocast/internal/contracts"
)

// FilePersister 단일 JSON 문서로 상태 저장
// 임시 파일 → fsync → rename 순서로 원자적 교체 (크래시 시 반쪽 파일 없음)
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the target file
func (p *FilePersister) Path() string {
	return p.path
}

// Save implements contracts.Persister
func (p *FilePersister) Save(ctx context.Context, st contracts.EngineState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrPersistence, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", contracts.ErrPersistence, err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", contracts.ErrPersistence, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("%w: write temp file: %v", contracts.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync temp file: %v", contracts.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", contracts.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", contracts.ErrPersistence, err)
	}

	return nil
}

// Load reads the persisted state. A missing file is a cold start (found=false).
func (p *FilePersister) Load() (contracts.EngineState, bool, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return contracts.EngineState{}, false, nil
	}
	if err != nil {
		return contracts.EngineState{}, false, fmt.Errorf("read state file: %w", err)
	}

	var st contracts.EngineState
	if err := json.Unmarshal(data, &st); err != nil {
		return contracts.EngineState{}, false, fmt.Errorf("decode state file %s: %w", p.path, err)
	}
	return st, true, nil
}

// MultiPersister saves to every persister; one failure does not skip the others
type MultiPersister []contracts.Persister

// Save implements contracts.Persister
func (m MultiPersister) Save(ctx context.Context, st contracts.EngineState) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Save(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
