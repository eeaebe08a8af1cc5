package http

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"curetrack/infrastructure/respond"
	"curetrack/infrastructure/session"
	"curetrack/processing/failure"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginHandler authenticates the user and issues a bearer session token.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, r, s.Log, err)
			return
		}
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			respond.Error(w, r, s.Log, failure.New(failure.ValidationError, "username and password are required"))
			return
		}

		sess, err := session.Login(r.Context(), s.DB, s.Hasher, req.Username, req.Password, s.SessionTTL)
		if errors.Is(err, session.ErrInvalidCredentials) {
			s.Log.Info("login rejected", zap.String("username", req.Username))
			respond.JSON(w, http.StatusUnauthorized, respond.ErrorBody{
				Code:      "INVALID_CREDENTIALS",
				Message:   err.Error(),
				RequestID: middleware.GetReqID(r.Context()),
			})
			return
		}
		if err != nil {
			respond.Error(w, r, s.Log, failure.Storage("login", err))
			return
		}

		s.SessionCache.AddSession(sess)
		s.Log.Info("login", zap.Int64("user_id", sess.UserID), zap.String("role", sess.User.Role))
		respond.JSON(w, http.StatusOK, loginResponse{Token: sess.ID, Role: sess.User.Role, ExpiresAt: sess.ExpiresAt})
	}
}

// LogoutHandler removes the session named by the bearer token.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := session.BearerToken(r); token != "" {
			s.SessionCache.DeleteSessionBySessionToken(token)
			if err := session.Delete(r.Context(), s.DB, token); err != nil {
				s.Log.Error("delete session failed", zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PermissionsQueryHandler lists the operations the caller's role may run.
func (s *Server) PermissionsQueryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.GetSessionFromContext(r.Context())
		if !ok {
			respond.Unauthenticated(w)
			return
		}
		seen := make(map[string]struct{})
		ops := []string{}
		for _, res := range s.RbacCache.ResourcesForRole(sess.User.Role) {
			if _, dup := seen[res.Operation]; dup {
				continue
			}
			seen[res.Operation] = struct{}{}
			ops = append(ops, res.Operation)
		}
		sort.Strings(ops)
		respond.JSON(w, http.StatusOK, map[string]any{
			"role":       sess.User.Role,
			"operations": ops,
		})
	}
}
