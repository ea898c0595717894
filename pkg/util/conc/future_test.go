package conc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ConcSuite struct {
	suite.Suite
}

func (s *ConcSuite) TestGo() {
	f := Go(func() (int, error) { return 7, nil })
	v, err := f.Await()
	s.NoError(err)
	s.Equal(7, v)
	s.True(f.Done())
	s.True(f.OK())

	errBoom := errors.New("boom")
	f2 := Go(func() (int, error) { return 0, errBoom })
	s.ErrorIs(f2.Err(), errBoom)
	s.ErrorIs(AwaitAll(f, f2), errBoom)
}

func (s *ConcSuite) TestPoolSubmit() {
	pool := NewPool[int](2)
	defer pool.Release()
	s.Equal(2, pool.Cap())

	futures := make([]*Future[int], 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) { return i * i, nil }))
	}
	s.NoError(AwaitAll(futures...))
	for i, f := range futures {
		s.Equal(i*i, f.Value())
	}
}

func (s *ConcSuite) TestPoolPreHandler() {
	called := make(chan struct{}, 1)
	pool := NewPool[struct{}](1, WithPreHandler(func() { called <- struct{}{} }))
	defer pool.Release()
	s.NoError(pool.Submit(func() (struct{}, error) { return struct{}{}, nil }).Err())
	s.Len(called, 1)
}

func (s *ConcSuite) TestSubmitAfterRelease() {
	pool := NewPool[int](1)
	pool.Release()
	s.Error(pool.Submit(func() (int, error) { return 1, nil }).Err())
}

func (s *ConcSuite) TestDefault() {
	s.Same(Default(), Default())
	s.GreaterOrEqual(Default().Cap(), 2)
}

func TestConc(t *testing.T) {
	suite.Run(t, new(ConcSuite))
}
