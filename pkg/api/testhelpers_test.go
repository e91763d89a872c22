package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lookout-vision/lookout/pkg/archive"
	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/inference"
	"github.com/lookout-vision/lookout/pkg/middleware"
)

const testSecret = "test-secret"

// pngHeader is enough for content sniffing to report image/png
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testEnv struct {
	server  *Server
	handler http.Handler
	users   *auth.MemoryUserStore
	store   *history.MemoryStore
	codec   *auth.TokenCodec
}

type envOption func(*Options)

func withLimiter(l middleware.Limiter) envOption {
	return func(o *Options) { o.AuthLimiter = l }
}

func withArchive(a archive.Archive) envOption {
	return func(o *Options) { o.Archive = a }
}

func withFrameImages() envOption {
	return func(o *Options) { o.StoreFrameImages = true }
}

func withSecret(secret string) envOption {
	return func(o *Options) {
		o.Auth = auth.NewService(auth.NewMemoryUserStore(), auth.NewTokenCodec(secret, time.Hour), o.Logger)
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestEnv builds a server whose inference client points at inferenceURL
func newTestEnv(t *testing.T, inferenceURL string, opts ...envOption) *testEnv {
	t.Helper()

	logger := quietLogger()
	users := auth.NewMemoryUserStore()
	codec := auth.NewTokenCodec(testSecret, time.Hour)
	store := history.NewMemoryStore()

	options := Options{
		Auth:        auth.NewService(users, codec, logger),
		Recorder:    history.NewRecorder(store, logger),
		Inference:   inference.NewClient(inferenceURL, inference.WithLogger(logger)),
		Logger:      logger,
		CORSOrigins: []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(&options)
	}

	server := NewServer(options)
	return &testEnv{
		server:  server,
		handler: server.Handler(),
		users:   users,
		store:   store,
		codec:   options.Auth.Codec(),
	}
}

// inferenceStub serves handler as the inference service
func inferenceStub(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

// refusedURL returns an address with nothing listening on it
func refusedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.codec.Issue(userID, userID+"@example.com")
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) entries(t *testing.T, userID string) []*history.Entry {
	t.Helper()
	logs, _, err := e.store.List(context.Background(), userID, MaxHistoryLimit, 0)
	require.NoError(t, err)
	return logs
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func authorize(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type formFile struct {
	field    string
	filename string
	data     []byte
}

// multipartRequest builds a multipart POST with the given fields and files
func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		h.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// fakeArchive records every stored object
type fakeArchive struct {
	keys chan string
	err  error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{keys: make(chan string, 16)}
}

func (a *fakeArchive) Enabled() bool { return true }

func (a *fakeArchive) Key(label, filename string) string {
	return archive.TrainingKey(label, filename)
}

func (a *fakeArchive) Put(ctx context.Context, obj archive.Object) error {
	if a.err != nil {
		return a.err
	}
	a.keys <- obj.Key
	return nil
}
