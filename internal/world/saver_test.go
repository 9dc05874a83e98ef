package world

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaverRunsJobsInOrder(t *testing.T) {
	s := NewSaver(8)
	defer s.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue("test", "", func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	s.Flush()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSaverRetriesOnce(t *testing.T) {
	s := NewSaver(8)
	s.retry = 0
	defer s.Close()

	var flaky, broken int32
	s.Enqueue("test", "", func(ctx context.Context) error {
		if atomic.AddInt32(&flaky, 1) == 1 {
			return errors.New("временная ошибка")
		}
		return nil
	})
	s.Enqueue("test", "", func(ctx context.Context) error {
		atomic.AddInt32(&broken, 1)
		return errors.New("постоянная ошибка")
	})
	s.Flush()

	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky))
	assert.Equal(t, int32(2), atomic.LoadInt32(&broken), "не больше одного повтора")
}

func TestSaverCloseDrainsQueue(t *testing.T) {
	s := NewSaver(64)

	var done int32
	for i := 0; i < 50; i++ {
		s.Enqueue("test", "", func(ctx context.Context) error {
			atomic.AddInt32(&done, 1)
			return nil
		})
	}
	s.Close()
	assert.Equal(t, int32(50), atomic.LoadInt32(&done))

	// после закрытия запись выполняется сразу
	s.Enqueue("test", "", func(ctx context.Context) error {
		atomic.AddInt32(&done, 1)
		return nil
	})
	assert.Equal(t, int32(51), atomic.LoadInt32(&done))
	s.Close()
	s.Flush()
}

func TestSaverRecoversPanics(t *testing.T) {
	s := NewSaver(4)
	defer s.Close()

	var after int32
	s.Enqueue("test", "", func(ctx context.Context) error { panic("сломалось") })
	s.Enqueue("test", "", func(ctx context.Context) error {
		atomic.AddInt32(&after, 1)
		return nil
	})
	s.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

// hold занимает воркер, пока не закрыт release
func hold(s *Saver) (release func()) {
	started := make(chan struct{})
	gate := make(chan struct{})
	s.Enqueue("hold", "", func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	})
	<-started
	return func() { close(gate) }
}

func TestSaverCoalescesPendingKey(t *testing.T) {
	s := NewSaver(1)
	defer s.Close()
	release := hold(s)

	var order []string
	write := func(v string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, v)
			return nil
		}
	}
	s.Enqueue("block", "block:1", write("save 1"))
	s.Enqueue("block", "block:2", write("save 2"))
	s.Enqueue("block", "block:1", write("delete 1"))
	s.Enqueue("test", "", write("plain"))
	assert.Equal(t, 3, s.Pending(), "вторая запись ключа заменяет первую")
	assert.Empty(t, order, "переполнение не выполняет запись в вызывающей горутине")

	release()
	s.Flush()
	assert.Equal(t, []string{"delete 1", "save 2", "plain"}, order)
}

func TestSaverKeyRequeuedAfterStart(t *testing.T) {
	s := NewSaver(8)
	defer s.Close()

	var order []string
	started := make(chan struct{})
	gate := make(chan struct{})
	s.Enqueue("block", "block:1", func(ctx context.Context) error {
		close(started)
		<-gate
		order = append(order, "save")
		return nil
	})
	<-started
	// первое задание уже выполняется: новое встаёт в очередь за ним
	s.Enqueue("block", "block:1", func(ctx context.Context) error {
		order = append(order, "delete")
		return nil
	})
	close(gate)
	s.Flush()
	assert.Equal(t, []string{"save", "delete"}, order)
}
