package world

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/logging"
)

// Saver - очередь отложенной записи (write-behind). Игровые обработчики
// не ждут хранилище: задания выполняются фоновым воркером по порядку,
// неудачная запись повторяется один раз и затем только логируется.
//
// Задания с одним ключом не переставляются: ещё не начатое задание
// заменяется более новым на своём месте в очереди, поэтому в хранилище
// всегда доходит последнее состояние ключа. Очередь не ограничена,
// но её длина не превышает числа различных ключей.
type Saver struct {
	mu     sync.Mutex
	queue  []*saveJob
	byKey  map[string]*saveJob
	closed bool

	wake chan struct{}
	done chan struct{}

	warnAt  int
	timeout time.Duration
	retry   time.Duration
}

type saveJob struct {
	kind  string
	key   string
	fn    func(ctx context.Context) error
	flush chan struct{}
}

// NewSaver запускает воркер. warnAt - длина очереди, при которой
// пишется предупреждение.
func NewSaver(warnAt int) *Saver {
	if warnAt <= 0 {
		warnAt = 1024
	}
	s := &Saver{
		byKey:   make(map[string]*saveJob),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		warnAt:  warnAt,
		timeout: 10 * time.Second,
		retry:   200 * time.Millisecond,
	}
	go s.loop()
	return s
}

// Enqueue ставит запись ключа key в очередь и сразу возвращается.
// Пустой key - запись без объединения. После Close запись выполняется
// синхронно: воркера уже нет, и очередь пуста.
func (s *Saver) Enqueue(kind, key string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.run(kind, fn)
		return
	}
	if key != "" {
		if pending, ok := s.byKey[key]; ok {
			pending.kind, pending.fn = kind, fn
			s.mu.Unlock()
			persistCoalesced.WithLabelValues(kind).Inc()
			return
		}
	}
	job := &saveJob{kind: kind, key: key, fn: fn}
	s.queue = append(s.queue, job)
	if key != "" {
		s.byKey[key] = job
	}
	if len(s.queue) == s.warnAt {
		logging.Warn("⚠️ Очередь сохранения выросла до %d заданий", s.warnAt)
	}
	s.mu.Unlock()
	s.notify()
}

// Flush ждёт, пока выполнятся все задания, поставленные до вызова
func (s *Saver) Flush() {
	marker := &saveJob{flush: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, marker)
	s.mu.Unlock()
	s.notify()
	<-marker.flush
}

// Pending - число заданий в очереди
func (s *Saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close дописывает очередь и останавливает воркер
func (s *Saver) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.notify()
	<-s.done
}

func (s *Saver) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next снимает голову очереди; ok=false, когда очередь пуста и закрыта
func (s *Saver) next() (kind string, fn func(ctx context.Context) error, flush chan struct{}, ok bool) {
	s.mu.Lock()
	for len(s.queue) == 0 {
		if s.closed {
			s.mu.Unlock()
			return "", nil, nil, false
		}
		s.mu.Unlock()
		<-s.wake
		s.mu.Lock()
	}
	job := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if job.key != "" && s.byKey[job.key] == job {
		delete(s.byKey, job.key)
	}
	kind, fn, flush = job.kind, job.fn, job.flush
	s.mu.Unlock()
	return kind, fn, flush, true
}

func (s *Saver) loop() {
	defer close(s.done)
	for {
		kind, fn, flush, ok := s.next()
		if !ok {
			return
		}
		if flush != nil {
			close(flush)
			continue
		}
		s.run(kind, fn)
	}
}

func (s *Saver) run(kind string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("❌ Паника при сохранении %s: %v", kind, r)
		}
	}()

	err := s.attempt(fn)
	if err == nil {
		return
	}
	logging.Debug("Повтор сохранения %s после ошибки: %v", kind, err)
	time.Sleep(s.retry)
	if err = s.attempt(fn); err != nil {
		persistFailures.WithLabelValues(kind).Inc()
		logging.Warn("⚠️ %v", gameerr.Wrap(gameerr.PersistenceFailure, "save "+kind, err))
	}
}

func (s *Saver) attempt(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return fn(ctx)
}
