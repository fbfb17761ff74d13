package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

const (
	defaultExt = ".txt"
	lockSuffix = ".lock"
	tmpMarker  = ".tmp-"
)

// Current - состояние файла на момент выполнения задачи из очереди
type Current struct {
	Data    []byte
	Exists  bool
	ModTime time.Time
}

// MutateFunc строит новое содержимое файла из текущего.
// Вернуть ErrUnchanged, чтобы ничего не записывать.
type MutateFunc func(cur Current) ([]byte, error)

// WriteObserver получает статистику записей (метрики)
type WriteObserver interface {
	ObserveWrite(outcome string, duration time.Duration)
	ObserveQueueDepth(depth int)
}

type job struct {
	mutate MutateFunc
	remove bool
	done   chan error
}

// queue - FIFO очередь записей одного аккаунта
type queue struct {
	jobs    []*job
	writing bool
}

// Store - хранилище ledger файлов.
// Записи одного аккаунта выполняются строго по очереди, разных аккаунтов - параллельно.
// Чтения не ставятся в очередь.
type Store struct {
	dir      string
	ext      string
	logger   *slog.Logger
	observer WriteObserver

	mu      sync.Mutex
	queues  map[string]*queue
	pending int
}

// Option настраивает Store
type Option func(*Store)

// WithExtension задаёт расширение ledger файлов
func WithExtension(ext string) Option {
	return func(s *Store) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.ext = ext
	}
}

// WithObserver подключает сбор метрик
func WithObserver(o WriteObserver) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// NewStore создает хранилище в директории dir
func NewStore(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir %q: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		ext:    defaultExt,
		logger: logger,
		queues: make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Dir возвращает директорию хранилища
func (s *Store) Dir() string {
	return s.dir
}

// Path возвращает путь к ledger файлу аккаунта
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+s.ext)
}

// IDFromPath возвращает id аккаунта по имени файла, false если это не ledger файл
func (s *Store) IDFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.Contains(name, tmpMarker) || !strings.HasSuffix(name, s.ext) {
		return "", false
	}

	id := strings.TrimSuffix(name, s.ext)
	if ValidateID(id) != nil {
		return "", false
	}

	return id, true
}

// ValidateID проверяет что id можно использовать как имя файла
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\:[]`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// List возвращает id всех ledger файлов
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := s.IDFromPath(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// ReadRaw читает ledger файл целиком. Читатель видит либо старое, либо новое содержимое.
func (s *Store) ReadRaw(id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", AccountID: id, Err: err}
	}

	return data, nil
}

// Read читает и разбирает ledger файл. Битые строки логируются и пропускаются.
func (s *Store) Read(id string) (Document, error) {
	data, err := s.ReadRaw(id)
	if err != nil {
		return Document{}, err
	}

	doc, issues := Parse(string(data))
	for _, issue := range issues {
		s.logger.Warn("Skipping malformed ledger line",
			slog.String("account", id),
			slog.Int("line", issue.Line),
			slog.String("reason", issue.Reason))
	}

	return doc, nil
}

// Activity возвращает время последней активности аккаунта:
// timestamp из STATUS строки, либо время модификации файла
func (s *Store) Activity(id string) (time.Time, error) {
	doc, err := s.Read(id)
	if err != nil {
		return time.Time{}, err
	}

	if doc.Status != nil && !doc.Status.Timestamp.IsZero() {
		return doc.Status.Timestamp, nil
	}

	info, err := os.Stat(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, &StorageError{Op: "stat", AccountID: id, Err: err}
	}

	return info.ModTime().UTC(), nil
}

// Enqueue ставит запись в очередь аккаунта и сразу возвращает канал с результатом.
// Поставленную запись отменить нельзя.
func (s *Store) Enqueue(id string, content string) <-chan error {
	data := []byte(normalize(content))
	return s.enqueue(id, &job{mutate: func(Current) ([]byte, error) { return data, nil }})
}

// Write записывает содержимое через очередь и ждёт результата.
// Отмена ctx прекращает ожидание, но не саму запись.
func (s *Store) Write(ctx context.Context, id string, content string) error {
	return wait(ctx, s.Enqueue(id, content))
}

// Mutate выполняет read-modify-write внутри очереди аккаунта
func (s *Store) Mutate(ctx context.Context, id string, fn MutateFunc) error {
	return wait(ctx, s.enqueue(id, &job{mutate: fn}))
}

// Delete удаляет ledger файл аккаунта (явное удаление аккаунта)
func (s *Store) Delete(ctx context.Context, id string) error {
	return wait(ctx, s.enqueue(id, &job{remove: true}))
}

// Pending возвращает количество записей в очередях
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) enqueue(id string, j *job) <-chan error {
	j.done = make(chan error, 1)

	if err := ValidateID(id); err != nil {
		j.done <- err
		return j.done
	}

	s.mu.Lock()
	q, ok := s.queues[id]
	if !ok {
		q = &queue{}
		s.queues[id] = q
	}
	q.jobs = append(q.jobs, j)
	s.pending++
	depth := s.pending
	start := !q.writing
	q.writing = true
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveQueueDepth(depth)
	}

	if start {
		go s.drain(id, q)
	}

	return j.done
}

// drain выполняет задачи очереди по одной, пока она не опустеет
func (s *Store) drain(id string, q *queue) {
	for {
		s.mu.Lock()
		if len(q.jobs) == 0 {
			q.writing = false
			delete(s.queues, id)
			s.mu.Unlock()
			return
		}

		j := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		s.mu.Unlock()

		start := time.Now()
		err := s.run(id, j)

		s.mu.Lock()
		s.pending--
		depth := s.pending
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.ObserveWrite(outcome(err), time.Since(start))
			s.observer.ObserveQueueDepth(depth)
		}

		if err != nil && !IsBusy(err) && !errors.Is(err, ErrNotFound) {
			s.logger.Error("Ledger write failed", slog.String("account", id), slog.Any("error", err))
		}

		j.done <- err
	}
}

func (s *Store) run(id string, j *job) error {
	path := s.Path(id)

	// Блокировка общая с EA: если EA держит файл, пропускаем запись
	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLock()
	if err != nil {
		return &StorageError{Op: "lock", AccountID: id, Err: err}
	}
	if !locked {
		return ErrBusy
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release ledger lock", slog.String("account", id), slog.Any("error", err))
		}
	}()

	if j.remove {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return classify("delete", id, err)
		}
		_ = os.Remove(path + lockSuffix)
		return nil
	}

	var cur Current
	info, err := os.Stat(path)
	switch {
	case err == nil:
		data, err := os.ReadFile(path)
		if err != nil {
			return classify("read", id, err)
		}
		cur = Current{Data: data, Exists: true, ModTime: info.ModTime().UTC()}
	case errors.Is(err, os.ErrNotExist):
	default:
		return classify("stat", id, err)
	}

	data, err := j.mutate(cur)
	if err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}

	if err := writeAtomic(path, []byte(normalize(string(data)))); err != nil {
		return classify("write", id, err)
	}

	return nil
}

// writeAtomic пишет во временный файл рядом и атомарно подменяет целевой
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+tmpMarker+"*")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func classify(op, id string, err error) error {
	if errors.Is(err, syscall.EBUSY) {
		return ErrBusy
	}
	return &StorageError{Op: op, AccountID: id, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsBusy(err):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "missing"
	default:
		return "error"
	}
}

// normalize приводит переводы строк к \n
func normalize(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
