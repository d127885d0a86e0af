package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signet/pkg/requestcontext"
)

type mockGuard struct {
	called      int
	toReturn    int
	errToReturn error
}

func (m *mockGuard) PurgeExpired(_ context.Context) (int, error) {
	m.called++
	return m.toReturn, m.errToReturn
}

type mockWindows struct {
	called      int
	toReturn    int
	errToReturn error
	lastCutoff  time.Time
}

func (m *mockWindows) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.called++
	m.lastCutoff = cutoff
	return m.toReturn, m.errToReturn
}

type CleanupSuite struct {
	suite.Suite
	guard   *mockGuard
	windows *mockWindows
	worker  *Worker
}

func TestCleanupSuite(t *testing.T) {
	suite.Run(t, new(CleanupSuite))
}

func (s *CleanupSuite) SetupTest() {
	s.guard = &mockGuard{}
	s.windows = &mockWindows{}
	s.worker = New(s.guard, s.windows)
}

func (s *CleanupSuite) TestRunOncePurgesBothStores() {
	s.guard.toReturn = 4
	s.windows.toReturn = 7

	res, err := s.worker.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(4, res.IdempotencyPurged)
	s.Equal(7, res.WindowsPurged)
	s.Equal(1, s.guard.called)
	s.Equal(1, s.windows.called)
}

func (s *CleanupSuite) TestWindowCutoffHonorsRetention() {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	worker := New(s.guard, s.windows, WithWindowRetention(2*time.Hour))

	_, err := worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(now.Add(-2*time.Hour), s.windows.lastCutoff)
}

func (s *CleanupSuite) TestGuardErrorStopsRun() {
	s.guard.errToReturn = errors.New("store offline")

	_, err := s.worker.RunOnce(context.Background())
	s.Require().Error(err)
	s.Equal(0, s.windows.called)
}

func (s *CleanupSuite) TestWindowErrorPropagates() {
	s.windows.errToReturn = errors.New("store offline")

	_, err := s.worker.RunOnce(context.Background())
	s.Require().Error(err)
}

func (s *CleanupSuite) TestStartStopsOnContextCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(s.guard, s.windows, WithInterval(time.Hour)).Start(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("worker did not stop after cancellation")
	}
}
