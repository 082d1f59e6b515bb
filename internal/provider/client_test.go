package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/platformscan/internal/domain"
)

// fakeTransport scripts login and query behavior per attempt.
type fakeTransport struct {
	logins      int
	logouts     int
	queries     int
	loginErr    error
	queryErrs   []error // Error for query n; nil entries succeed
	rows        []domain.Bar
}

func (f *fakeTransport) Login(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeTransport) Logout(context.Context) error {
	f.logouts++
	return nil
}

func (f *fakeTransport) QueryBars(context.Context, string, time.Time, time.Time) ([]domain.Bar, error) {
	n := f.queries
	f.queries++
	if n < len(f.queryErrs) && f.queryErrs[n] != nil {
		return nil, f.queryErrs[n]
	}
	return f.rows, nil
}

func newTestClient(transport Transport, attempts int) *Client {
	return NewClient(transport, Options{
		QueryTimeout:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
	}, zerolog.Nop())
}

func TestClient_LoginIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, 0)

	require.NoError(t, client.Login(context.Background()))
	require.NoError(t, client.Login(context.Background()))
	assert.Equal(t, 1, transport.logins, "second login must reuse the session")
}

func TestClient_LoginFailure(t *testing.T) {
	transport := &fakeTransport{loginErr: errors.New("bad credentials")}
	client := newTestClient(transport, 0)

	err := client.Login(context.Background())
	assert.ErrorIs(t, err, ErrLoginFailed)
}

func TestClient_QueryRetriesWithRelogin(t *testing.T) {
	transport := &fakeTransport{
		queryErrs: []error{errors.New("timeout"), errors.New("timeout"), nil},
		rows:      []domain.Bar{{Code: "sh.600000"}},
	}
	client := newTestClient(transport, 3)

	rows, err := client.QueryBars(context.Background(), "sh.600000", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, transport.queries)
	// Initial login plus one forced re-login per retry.
	assert.Equal(t, 3, transport.logins)
}

func TestClient_QueryExhaustsRetries(t *testing.T) {
	transport := &fakeTransport{
		queryErrs: []error{errors.New("e"), errors.New("e"), errors.New("e")},
	}
	client := newTestClient(transport, 2)

	_, err := client.QueryBars(context.Background(), "sh.600000", time.Now(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.Equal(t, 3, transport.queries, "first attempt plus two retries")
}

func TestClient_QueryZeroRowsIsNotAnError(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, 0)

	rows, err := client.QueryBars(context.Background(), "sh.600000", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestClient_RetryRespectsContext(t *testing.T) {
	transport := &fakeTransport{
		queryErrs: []error{errors.New("e"), errors.New("e"), errors.New("e"), errors.New("e")},
	}
	client := NewClient(transport, Options{
		QueryTimeout:  time.Second,
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.QueryBars(ctx, "sh.600000", time.Now(), time.Now())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// syncTransport is a race-free transport for concurrent-use tests. Every
// failEvery-th query fails, exercising the forced re-login path while other
// workers' queries are in flight.
type syncTransport struct {
	mu        sync.Mutex
	logins    int
	queries   int
	failEvery int
}

func (s *syncTransport) Login(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	return nil
}

func (s *syncTransport) Logout(context.Context) error { return nil }

func (s *syncTransport) QueryBars(_ context.Context, code string, _, _ time.Time) ([]domain.Bar, error) {
	s.mu.Lock()
	s.queries++
	n := s.queries
	s.mu.Unlock()
	if s.failEvery > 0 && n%s.failEvery == 0 {
		return nil, errors.New("transient gateway error")
	}
	return []domain.Bar{{Code: code}}, nil
}

func TestClient_ConcurrentWorkersShareOneSession(t *testing.T) {
	transport := &syncTransport{}
	client := newTestClient(transport, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				rows, err := client.QueryBars(context.Background(), "sh.600000", time.Now(), time.Now())
				assert.NoError(t, err)
				assert.Len(t, rows, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transport.logins, "all workers reuse the single session")
	assert.Equal(t, 200, transport.queries)
}

func TestClient_ConcurrentRetriesForceReloginSafely(t *testing.T) {
	transport := &syncTransport{failEvery: 7}
	client := newTestClient(transport, 3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				// A retry may race with other workers' live queries; the only
				// acceptable outcomes are rows or an exhausted-retries error.
				rows, err := client.QueryBars(context.Background(), "sh.600000", time.Now(), time.Now())
				if err != nil {
					assert.ErrorIs(t, err, ErrQueryFailed)
					continue
				}
				assert.Len(t, rows, 1)
			}
		}()
	}
	wg.Wait()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.GreaterOrEqual(t, transport.logins, 2, "failed queries force fresh logins")
	assert.GreaterOrEqual(t, transport.queries, 80)
}

func TestClient_LogoutClearsSession(t *testing.T) {
	transport := &fakeTransport{}
	client := newTestClient(transport, 0)

	require.NoError(t, client.Login(context.Background()))
	require.NoError(t, client.Logout(context.Background()))
	require.NoError(t, client.Login(context.Background()))
	assert.Equal(t, 2, transport.logins)
	assert.Equal(t, 1, transport.logouts)
}
