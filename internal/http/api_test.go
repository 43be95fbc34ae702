package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"caption-api/internal/auth"
	"caption-api/internal/caption"
	"caption-api/internal/repository/sqlite"
	"caption-api/internal/service"
	"caption-api/internal/storage"
)

type testServer struct {
	router   *gin.Engine
	tokens   *auth.TokenService
	archived map[string]string
}

type memoryStore struct {
	objects map[string]string
}

func (m *memoryStore) PutObject(_ context.Context, bucket, key string, body io.Reader, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.objects[key] = string(data)
	return "s3://" + bucket + "/" + key, nil
}

func (m *memoryStore) ListObjects(_ context.Context, _, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) DeletePrefix(_ context.Context, _, prefix string) (int, error) {
	n := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			n++
		}
	}
	return n, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := sqlite.NewUserRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/caption":
			_, _ = w.Write([]byte(`{"caption":"a cat on a mat","text":"MEOW"}`))
		case "/caption/pdf":
			_, _ = w.Write([]byte(`{"pages":[{"page":1,"caption":"cover","ocr_text":"Title"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(backend.Close)

	logger, _ := test.NewNullLogger()
	tokens := auth.NewTokenService("test-secret")
	users := service.NewUserService(repo, auth.NewBcryptHasher(bcrypt.MinCost), tokens, time.Hour)
	store := &memoryStore{objects: map[string]string{}}
	captions := caption.NewService(
		caption.NewHTTPClient(backend.URL, 5*time.Second),
		store,
		caption.ArchiveOptions{Bucket: "bucket", KeyPrefix: "uploads"},
		logger,
	)

	router := gin.New()
	NewHandler(users, captions, 1<<20, logger).RegisterRoutes(router)

	return &testServer{router: router, tokens: tokens, archived: store.objects}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) login(username, password string) *httptest.ResponseRecorder {
	form := url.Values{"username": {username}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *testServer) register(t *testing.T, email, username, password string) UserResponse {
	t.Helper()

	rec := s.doJSON(http.MethodPost, "/auth/register", gin.H{
		"email":          email,
		"username":       username,
		"password":       password,
		"password_check": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var user UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	return user
}

func (s *testServer) token(t *testing.T, username, password string) string {
	t.Helper()

	rec := s.login(username, password)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestScenario_RegisterLoginDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(http.MethodPost, "/auth/register", gin.H{
		"email":          "a@x.com",
		"username":       "alice",
		"password":       "pw123456",
		"password_check": "pw123456",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "pw123456")
	assert.NotContains(t, rec.Body.String(), "password")

	body := decode(t, rec)
	id, _ := body["_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "a@x.com", body["email"])

	rec = s.login("alice", "pw123456")
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode(t, rec)
	assert.Equal(t, "bearer", tok["token_type"])
	assert.NotEmpty(t, tok["access_token"])

	rec = s.login("alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodDelete, "/auth/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = s.doJSON(http.MethodDelete, "/auth/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegister_Conflicts(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "alice", "pw123456")

	rec := s.doJSON(http.MethodPost, "/auth/register", gin.H{
		"email": "b@x.com", "username": "alice", "password": "pw123456", "password_check": "pw123456",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.doJSON(http.MethodPost, "/auth/register", gin.H{
		"email": "b@x.com", "username": "bob", "password": "pw123456", "password_check": "pw000000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "password must be same as password check", decode(t, rec)["error"])
}

func TestRegister_Validation(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]struct {
		body  gin.H
		field string
	}{
		"bad email":       {gin.H{"email": "not-an-email", "username": "alice", "password": "pw123456", "password_check": "pw123456"}, "email"},
		"short username":  {gin.H{"email": "a@x.com", "username": "al", "password": "pw123456", "password_check": "pw123456"}, "username"},
		"long username":   {gin.H{"email": "a@x.com", "username": strings.Repeat("a", 31), "password": "pw123456", "password_check": "pw123456"}, "username"},
		"short password":  {gin.H{"email": "a@x.com", "username": "alice", "password": "short", "password_check": "short"}, "password"},
		"missing confirm": {gin.H{"email": "a@x.com", "username": "alice", "password": "pw123456"}, "password_check"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := s.doJSON(http.MethodPost, "/auth/register", tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			fields, _ := decode(t, rec)["fields"].(map[string]any)
			assert.Contains(t, fields, tc.field)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(req).Code)
}

func TestLogin_UnknownUserAndMissingFields(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.login("nobody", "pw123456").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, s.login("", "").Code)
}

func TestGetAndListUsers(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(http.MethodGet, "/auth/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	alice := s.register(t, "a@x.com", "alice", "pw123456")
	s.register(t, "b@x.com", "bob", "pw123456")

	rec = s.doJSON(http.MethodGet, "/auth/user/"+alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode(t, rec)["username"])

	rec = s.doJSON(http.MethodGet, "/auth/user/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodGet, "/auth/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users, 2)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestUpdateUser(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "a@x.com", "alice", "pw123456")
	s.register(t, "b@x.com", "bob", "pw123456")

	rec := s.doJSON(http.MethodPut, "/auth/missing", gin.H{"password": "pw123456"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/"+alice.ID, gin.H{"password": "wrong-pass", "email": "n@x.com"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/"+alice.ID, gin.H{"password": "pw123456"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", decode(t, rec)["email"])

	rec = s.doJSON(http.MethodPut, "/auth/"+alice.ID, gin.H{"password": "pw123456", "email": "n@x.com", "username": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "n@x.com", body["email"])
	assert.Equal(t, "alice", body["username"])

	rec = s.doJSON(http.MethodPut, "/auth/"+alice.ID, gin.H{"password": "pw123456", "username": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/"+alice.ID, gin.H{"password": "pw123456", "email": "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// the verification password is not a field that can be changed here
	assert.Equal(t, http.StatusOK, s.login("alice", "pw123456").Code)
}

func TestUpdatePassword(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "a@x.com", "alice", "pw123456")

	rec := s.doJSON(http.MethodPut, "/auth/password/missing", gin.H{
		"old_pass": "pw123456", "new_pass": "newpass99", "confirm_new_pass": "newpass99",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/password/"+alice.ID, gin.H{
		"old_pass": "wrong-pass", "new_pass": "newpass99", "confirm_new_pass": "newpass99",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/password/"+alice.ID, gin.H{
		"old_pass": "pw123456", "new_pass": "newpass99", "confirm_new_pass": "newpass00",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.doJSON(http.MethodPut, "/auth/password/"+alice.ID, gin.H{
		"old_pass": "pw123456", "new_pass": "newpass99", "confirm_new_pass": "newpass99",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.ID, decode(t, rec)["_id"])

	assert.Equal(t, http.StatusUnauthorized, s.login("alice", "pw123456").Code)
	assert.Equal(t, http.StatusOK, s.login("alice", "newpass99").Code)
}

func TestCurrentUser(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "a@x.com", "alice", "pw123456")
	token := s.token(t, "alice", "pw123456")

	req := httptest.NewRequest(http.MethodGet, "/auth/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"User":{"username":"alice","user_id":"`+alice.ID+`"}}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/auth/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestCurrentUser_Rejected(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "alice", "pw123456")
	token := s.token(t, "alice", "pw123456")

	expired, err := s.tokens.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).
		Issue("alice", "some-id", time.Minute)
	require.NoError(t, err)

	headers := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic " + token,
		"no token":     "Bearer ",
		"garbage":      "Bearer garbage",
		"tampered":     "Bearer " + token[:len(token)-4] + "AAAA",
		"expired":      "Bearer " + expired,
	}
	for name, header := range headers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := s.do(req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			assert.Equal(t, "could not validate user", decode(t, rec)["error"])
		})
	}
}

func TestTokenOutlivesDeletion(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "a@x.com", "alice", "pw123456")
	token := s.token(t, "alice", "pw123456")

	require.Equal(t, http.StatusNoContent, s.doJSON(http.MethodDelete, "/auth/"+alice.ID, nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func multipartRequest(t *testing.T, path, filename string, data []byte, token string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCaptionRoutes(t *testing.T) {
	s := newTestServer(t)
	alice := s.register(t, "a@x.com", "alice", "pw123456")
	token := s.token(t, "alice", "pw123456")

	rec := s.do(multipartRequest(t, "/model/caption", "cat.png", []byte("png"), ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(multipartRequest(t, "/model/caption", "cat.png", []byte("png"), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"caption":"a cat on a mat","text":"MEOW"}`, rec.Body.String())

	rec = s.do(multipartRequest(t, "/model/caption/pdf", "doc.pdf", []byte("%PDF"), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"pages":[{"page":1,"caption":"cover","ocr_text":"Title"}]}`, rec.Body.String())

	rec = s.do(multipartRequest(t, "/model/caption", "empty.png", nil, token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty file", decode(t, rec)["error"])

	assert.Len(t, s.archived, 2)
	for key := range s.archived {
		assert.True(t, strings.HasPrefix(key, "uploads/"+alice.ID+"/"), key)
	}

	req := httptest.NewRequest(http.MethodGet, "/model/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var objects []StorageObjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objects))
	assert.Len(t, objects, 2)

	req = httptest.NewRequest(http.MethodDelete, "/model/uploads", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["deleted"])
	assert.Empty(t, s.archived)
}

func TestCaptionRoutes_MissingFile(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "alice", "pw123456")
	token := s.token(t, "alice", "pw123456")

	req := httptest.NewRequest(http.MethodPost, "/model/caption", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnprocessableEntity, s.do(req).Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true}`, rec.Body.String())
}
