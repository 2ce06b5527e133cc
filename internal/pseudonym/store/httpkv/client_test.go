package httpkv_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"pseudonym/internal/kvserver"
	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/store/httpkv"
	"pseudonym/pkg/platform/sentinel"
)

type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	kv     *kvserver.Server
	client *httpkv.Client
	ctx    context.Context
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.kv = kvserver.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.server = httptest.NewServer(s.kv.Handler())
	client, err := httpkv.New(s.server.URL)
	s.Require().NoError(err)
	s.client = client
	s.ctx = context.Background()
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) TestNewRejectsBadURL() {
	for _, raw := range []string{"", "ftp://host", "not a url", "http://"} {
		_, err := httpkv.New(raw)
		s.ErrorIs(err, models.ErrInvalidConfiguration, raw)
	}
}

func (s *ClientSuite) TestPutIfAbsent() {
	key := models.Digest{0x11, 0x22}

	_, found, err := s.client.Get(s.ctx, key)
	s.Require().NoError(err)
	s.False(found)

	outcome, err := s.client.PutIfAbsent(s.ctx, key, []byte("first"))
	s.Require().NoError(err)
	s.True(outcome.Stored)

	outcome, err = s.client.PutIfAbsent(s.ctx, key, []byte("second"))
	s.Require().NoError(err)
	s.False(outcome.Stored)
	s.Equal([]byte("first"), outcome.Existing)

	value, found, err := s.client.Get(s.ctx, key)
	s.Require().NoError(err)
	s.True(found)
	s.Equal([]byte("first"), value)
}

func (s *ClientSuite) TestBlobsOverwrite() {
	s.Require().NoError(s.client.PutBlob(s.ctx, "shards/abc", []byte("v1")))
	s.Require().NoError(s.client.PutBlob(s.ctx, "shards/abc", []byte("v2")))

	value, found, err := s.client.GetBlob(s.ctx, "shards/abc")
	s.Require().NoError(err)
	s.True(found)
	s.Equal([]byte("v2"), value)
}

func (s *ClientSuite) TestConcurrentPutIfAbsent() {
	key := models.Digest{0x33}
	var wg sync.WaitGroup
	var stored atomic.Int32
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.client.PutIfAbsent(s.ctx, key, []byte{byte('a' + i)})
			s.NoError(err)
			if outcome.Stored {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), stored.Load())
	s.Equal(1, s.kv.Len())
}

func (s *ClientSuite) TestServerErrorsAreUnavailable() {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	client, err := httpkv.New(failing.URL)
	s.Require().NoError(err)

	_, _, err = client.Get(s.ctx, models.Digest{1})
	s.ErrorIs(err, sentinel.ErrUnavailable)

	_, err = client.PutIfAbsent(s.ctx, models.Digest{1}, []byte("x"))
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ClientSuite) TestGetBlobRejectsOversizedObjects() {
	payload := bytes.Repeat([]byte("a"), httpkv.MaxObjectSize+1)
	large := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer large.Close()
	client, err := httpkv.New(large.URL)
	s.Require().NoError(err)

	_, found, err := client.GetBlob(s.ctx, "shards/abc")
	s.ErrorIs(err, httpkv.ErrObjectTooLarge)
	s.False(found)

	s.Run("object at the limit is read whole", func() {
		exact := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(payload[:httpkv.MaxObjectSize])
		}))
		defer exact.Close()
		client, err := httpkv.New(exact.URL)
		s.Require().NoError(err)

		body, found, err := client.GetBlob(s.ctx, "shards/abc")
		s.Require().NoError(err)
		s.True(found)
		s.Len(body, httpkv.MaxObjectSize)
	})
}
