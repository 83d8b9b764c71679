package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"supernotify/internal/engine"
	logx "supernotify/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.records.jsonl (append-only JSON Lines)
//   - <prefix>.inbox.jsonl   (append-only JSON Lines)
//
// Listing scans the file; purge rewrites it atomically (tmp + rename).
// Fine for the archive sizes this engine produces; heavy history belongs
// in the sqlite backend.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recordsPath string
	recordsFile *os.File

	inboxPath string
	inboxFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	recordsPath := prefix + ".records.jsonl"
	inboxPath := prefix + ".inbox.jsonl"

	rf, err := os.OpenFile(recordsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	inf, err := os.OpenFile(inboxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:         log,
		recordsPath: recordsPath,
		recordsFile: rf,
		inboxPath:   inboxPath,
		inboxFile:   inf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.recordsFile != nil {
		err1 = s.recordsFile.Close()
		s.recordsFile = nil
	}
	if s.inboxFile != nil {
		err2 = s.inboxFile.Close()
		s.inboxFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendRecord(ctx context.Context, rec *engine.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordsFile == nil {
		return errors.New("records file closed")
	}
	return json.NewEncoder(s.recordsFile).Encode(rec)
}

func (s *fileStore) ListRecords(ctx context.Context, limit int) ([]*engine.Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*engine.Record
	err := scanLines(s.recordsPath, func(line []byte) {
		var r engine.Record
		if json.Unmarshal(line, &r) == nil {
			all = append(all, &r)
		}
	})
	if err != nil {
		return nil, err
	}
	reverseRecords(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fileStore) PurgeRecords(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordsFile == nil {
		return 0, errors.New("records file closed")
	}

	var kept []*engine.Record
	dropped := 0
	err := scanLines(s.recordsPath, func(line []byte) {
		var r engine.Record
		if json.Unmarshal(line, &r) != nil {
			dropped++
			return
		}
		if r.At.Before(before) {
			dropped++
			return
		}
		kept = append(kept, &r)
	})
	if err != nil {
		return 0, err
	}
	if dropped == 0 {
		return 0, nil
	}

	tmp := s.recordsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	// Swap the live append handle to the rewritten file.
	_ = s.recordsFile.Close()
	if err := os.Rename(tmp, s.recordsPath); err != nil {
		return 0, err
	}
	rf, err := os.OpenFile(s.recordsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.recordsFile = nil
		return dropped, err
	}
	s.recordsFile = rf
	return dropped, nil
}

func (s *fileStore) AppendInbox(ctx context.Context, item InboxItem) error {
	_ = ctx
	if item.At.IsZero() {
		item.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboxFile == nil {
		return errors.New("inbox file closed")
	}
	return json.NewEncoder(s.inboxFile).Encode(item)
}

func (s *fileStore) ListInbox(ctx context.Context, recipient string, limit int) ([]InboxItem, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []InboxItem
	err := scanLines(s.inboxPath, func(line []byte) {
		var it InboxItem
		if json.Unmarshal(line, &it) == nil && it.Recipient == recipient {
			all = append(all, it)
		}
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func scanLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		fn(sc.Bytes())
	}
	return sc.Err()
}

func reverseRecords(rs []*engine.Record) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
