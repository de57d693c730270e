package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/logger"
)

const sessionCookie = "voiceform_session"

type session struct {
	ctrl     *form.Controller
	lastSeen time.Time
}

// sessionStore 为每个浏览器会话保存一个表单控制器。
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	newCtrl  func() *form.Controller
	now      func() time.Time
}

func newSessionStore(ttl time.Duration, newCtrl func() *form.Controller) *sessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		newCtrl:  newCtrl,
		now:      time.Now,
	}
}

// get 返回 cookie 对应的控制器，不存在或已过期时新建并写入 cookie。
func (s *sessionStore) get(w http.ResponseWriter, r *http.Request) *form.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := s.sessions[c.Value]; ok {
			sess.lastSeen = now
			return sess.ctrl
		}
	}

	id := uuid.New().String()
	sess := &session{ctrl: s.newCtrl(), lastSeen: now}
	s.sessions[id] = sess
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Debugf("[web] 新会话 %s", id)
	return sess.ctrl
}

// evictLocked 清理空闲超时的会话，进行中的会话不清理。
func (s *sessionStore) evictLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl && !sess.ctrl.Processing() {
			delete(s.sessions, id)
			logger.Debugf("[web] 会话过期 %s", id)
		}
	}
}

func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
